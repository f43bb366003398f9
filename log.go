package booker

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// NewLogger builds the slog.Logger booker's command-line tools pass in as
// Options.Logger. It always uses a tint.Handler over stderr, colorized
// only when stderr is a terminal and pretty is true — a supervised,
// non-interactive process still gets readable key=value output, just
// without escape codes.
func NewLogger(pretty bool) *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:   slog.LevelDebug,
		NoColor: !pretty || !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}
