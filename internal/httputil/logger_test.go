package httputil

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
)

func newTestApp(buf *bytes.Buffer, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	logger := zerolog.New(buf)
	app.Use(requestid.New())
	app.Use(RequestLogger(logger))
	app.Get("/ok", handler)
	return app
}

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			break
		}
		lines = append(lines, line)
	}
	return lines
}

func TestRequestLoggerLogsSuccessfulRequestAtInfo(t *testing.T) {
	var buf bytes.Buffer
	app := newTestApp(&buf, func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/ok", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	if lines[0]["level"] != "info" {
		t.Errorf("level = %v, want info", lines[0]["level"])
	}
	if lines[0]["status"] != float64(200) {
		t.Errorf("status field = %v, want 200", lines[0]["status"])
	}
	if lines[0]["request_id"] == nil || lines[0]["request_id"] == "" {
		t.Error("request_id was not populated from the requestid middleware")
	}
}

func TestRequestLoggerLogsClientErrorsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	app := newTestApp(&buf, func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/ok", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	if lines[0]["level"] != "warn" {
		t.Errorf("level = %v, want warn for a 404", lines[0]["level"])
	}
}

func TestRequestLoggerLogsServerErrorsAtError(t *testing.T) {
	var buf bytes.Buffer
	app := newTestApp(&buf, func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusInternalServerError)
	})

	req := httptest.NewRequest("GET", "/ok", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	if lines[0]["level"] != "error" {
		t.Errorf("level = %v, want error for a 500", lines[0]["level"])
	}
}
