package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup configures the global logger. JSON output everywhere except
// development, where timestamps on text lines are easier to read.
func Setup(env, level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
	log.SetOutput(os.Stdout)

	if env == "development" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
}
