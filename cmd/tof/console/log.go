package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mklimuk/tof/distance"
)

const PictoRuler = "📏"
const PictoGhost = "👻"
const PictoStop = "🚫"
const PictoPin = "📌"

var writer io.Writer = os.Stdout
var errWriter io.Writer = os.Stderr

func SetOutput(w, errw io.Writer) {
	writer = w
	errWriter = errw
}

func Errorf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Red("ERROR"), fmt.Sprintf(msg, args...))
}

func Warnf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Yellow("WARN"), fmt.Sprintf(msg, args...))
}

func Infof(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", White("..."), fmt.Sprintf(msg, args...))
}

func PInfof(picto, msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", picto, fmt.Sprintf(msg, args...))
}

func Printf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, msg, args...)
}

// Range prints a single ranging result.
func Range(at time.Time, mm uint16, err error) {
	ts := Faint(at.Format(time.TimeOnly))
	switch {
	case err == nil:
		PInfof(PictoRuler, "%s %s mm", ts, Distance(mm))
	case errors.Is(err, distance.ErrOutOfRange):
		PInfof(PictoGhost, "%s %s", ts, Yellow("out of range"))
	case errors.Is(err, distance.ErrTimeout):
		PInfof(PictoStop, "%s %s", ts, Yellow("timeout"))
	default:
		PInfof(PictoStop, "%s %s", ts, Red(err))
	}
}
