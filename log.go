package lossless

import (
	"strings"

	"github.com/michaelquigley/pfxlog"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var log = logrus.WithField("pkg", "lossless")

func parseLevel(name string) (logrus.Level, error) {
	return logrus.ParseLevel(strings.ToLower(name))
}

// ConfigureLogging installs the process-wide logger at the level named in desc
func ConfigureLogging(desc LogDesc) error {
	level := logrus.InfoLevel
	if desc.Level != "" {
		lvl, err := parseLevel(desc.Level)
		if err != nil {
			return err
		}
		level = lvl
	}
	pfxlog.Global(level)
	if desc.Prefix != "" {
		pfxlog.SetPrefix(desc.Prefix)
	}
	logrus.SetLevel(level)
	return nil
}

// sortedKeys returns the keys of a string-keyed map in order, so that
// reports built by walking the map come out the same every run
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
