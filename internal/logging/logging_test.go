package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

func TestJSONFormatCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "debug", "json")
	Component(log, "scheduler").WithField("task", "t1").Debug("ran")

	line := buf.String()
	if got := gjson.Get(line, "component").String(); got != "scheduler" {
		t.Fatalf("expected component field, got %q in %s", got, line)
	}
	if got := gjson.Get(line, "msg").String(); got != "ran" {
		t.Fatalf("unexpected msg %q", got)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	log := NewWithOutput(&bytes.Buffer{}, "chatty", "text")
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}
