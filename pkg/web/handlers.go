package web

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicepipe/pkg/asr"
	"github.com/teslashibe/go-voicepipe/pkg/hub"
	"github.com/teslashibe/go-voicepipe/pkg/tts"
	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

// SpeakRequest is the body of POST /api/speak.
type SpeakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleLatestAudio(c *fiber.Ctx) error {
	r := s.results.Latest()
	if r == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no audio yet"})
	}
	return sendWAV(c, r)
}

func (s *Server) handleAudio(c *fiber.Ctx) error {
	r, ok := s.results.Get(c.Params("handle"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown or released handle"})
	}
	return sendWAV(c, r)
}

func sendWAV(c *fiber.Ctx, r *tts.Result) error {
	c.Attachment(r.Handle + ".wav")
	c.Set(fiber.HeaderContentType, "audio/wav")
	return c.Send(r.WAV)
}

func (s *Server) handleSpeak(c *fiber.Ctx) error {
	if s.speaker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "synthesis not configured"})
	}

	var req SpeakRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": tts.ErrEmptyText.Error()})
	}

	result, err := s.speaker.Speak(c.UserContext(), req.Text)
	if err != nil {
		status := fiber.StatusBadGateway
		switch {
		case errors.Is(err, tts.ErrEmptyText):
			status = fiber.StatusBadRequest
		case errors.Is(err, tts.ErrNotReady):
			status = fiber.StatusServiceUnavailable
		case errors.Is(err, tts.ErrBusy):
			status = fiber.StatusConflict
		}
		s.logger.Warn("speak failed", "error", err)
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	s.PublishResult(result)
	return c.JSON(newResultInfo(result))
}

func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	if s.transcriber == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "transcription not configured"})
	}

	fh, err := c.FormFile(asr.FormField)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing multipart field \"file\""})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer f.Close()
	blob, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	text, err := s.transcriber.Transcribe(c.UserContext(), blob)
	if err != nil {
		status := fiber.StatusBadGateway
		var decodeErr *wav.DecodeError
		if errors.Is(err, asr.ErrEmptyTranscriptInput) || errors.As(err, &decodeErr) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	s.updateStatus(func(st *Status) {
		st.LastTranscript = text
	})
	return c.JSON(fiber.Map{"text": text})
}

// handleStatusWS sends the current status, then every change.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	initial, err := hub.Encode(s.Status())
	if err != nil {
		s.logger.Error("failed to encode status", "error", err)
		return
	}
	client, ok := hub.NewClient(s.statusHub, conn, initial)
	if !ok {
		return
	}
	client.Run()
}
