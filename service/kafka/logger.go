package kafka

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// saramaLevel is the glog verbosity sarama's internal chatter is logged at.
const saramaLevel glog.Level = 1

// glogLogger routes sarama's internal chatter to glog at level, keeping it
// out of the relay's zap output unless verbosity is raised.
type glogLogger struct {
	level glog.Level
	out   func(depth int, msg string)
}

func newGlogLogger(level glog.Level) glogLogger {
	return glogLogger{level: level, out: func(depth int, msg string) { glog.InfoDepth(depth, msg) }}
}

func (l glogLogger) emit(msg string) {
	if glog.V(l.level) {
		l.out(3, strings.TrimRight(msg, "\n"))
	}
}

func (l glogLogger) Print(v ...interface{})                 { l.emit(fmt.Sprint(v...)) }
func (l glogLogger) Printf(format string, v ...interface{}) { l.emit(fmt.Sprintf(format, v...)) }
func (l glogLogger) Println(v ...interface{})               { l.emit(fmt.Sprintln(v...)) }

// UseGlog installs the glog bridge as sarama's logger. A positive v raises
// glog's -v to it; 1 or more shows the sarama client log.
func UseGlog(v int) error {
	if v > 0 {
		if err := flag.Set("v", strconv.Itoa(v)); err != nil {
			return fmt.Errorf("glog verbosity: %w", err)
		}
	}
	sarama.Logger = newGlogLogger(saramaLevel)
	return nil
}
