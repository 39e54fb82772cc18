package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kiss"
)

// NewWatchCommand creates the watch command
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <module>",
		Short: "Load a module and reload it whenever it changes",
		Long: `Load a module, then reload it after its files change and unload it when
it disappears. Each module event is printed until interrupted.

Example:
  kiss watch ./plugins --debounce 500ms`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().Duration("debounce", kiss.DefaultWatchDebounce, "Quiet period before reloading")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	debounce, _ := cmd.Flags().GetDuration("debounce")
	out := cmd.OutOrStdout()
	printer := kiss.NewFunctionalObserver("kiss-cli", func(_ context.Context, e cloudevents.Event) error {
		var data map[string]any
		_ = e.DataAs(&data)
		_, err := fmt.Fprintf(out, "%s %s %v\n", e.Time().Format("15:04:05"), e.Type(), data["path"])
		return err
	})
	c, err := newContainer(cmd, kiss.WithObserver(printer))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := c.LoadModule(ctx, args[0]); err != nil {
		return err
	}
	w, err := c.Watch(args[0], debounce)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
