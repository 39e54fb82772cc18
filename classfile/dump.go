package classfile

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a readable listing of a class file.
func Dump(w io.Writer, cf *ClassFile) error {
	p := &printer{w: w}
	p.printf("class %s (%d.%d) [%s]\n", cf.Name, cf.Major, cf.Minor, strings.Join(FlagNames(cf.Access), " "))
	if cf.Super != "" {
		p.printf("  extends %s\n", cf.Super)
	}
	for _, i := range cf.Interfaces {
		p.printf("  implements %s\n", i)
	}
	for _, t := range cf.TypeArguments {
		p.printf("  type argument %s<%s>\n", t.Owner, t.Arg)
	}
	for _, a := range cf.Annotations {
		p.annotation("  ", a)
	}
	for _, a := range cf.Attributes {
		p.printf("  attribute %s (%d bytes)\n", a.Name, len(a.Data))
	}
	for _, f := range cf.Fields {
		p.printf("  field %s %s [%s]\n", f.Name, f.Desc, strings.Join(FlagNames(f.Access), " "))
	}
	for _, m := range cf.Methods {
		p.printf("  method %s%s [%s] stack=%d locals=%d\n", m.Name, m.Desc, strings.Join(FlagNames(m.Access), " "), m.MaxStack, m.MaxLocals)
		for _, a := range m.Annotations {
			p.annotation("    ", a)
		}
		for _, in := range m.Instructions {
			p.printf("    %s\n", in)
		}
	}
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) annotation(indent string, a Annotation) {
	vis := ""
	if a.Invisible {
		vis = " (invisible)"
	}
	var values []string
	for _, e := range a.Values {
		values = append(values, e.Name+"="+e.Value)
	}
	p.printf("%s@%s(%s)%s\n", indent, a.Type, strings.Join(values, ", "), vis)
}
