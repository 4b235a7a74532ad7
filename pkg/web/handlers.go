package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-semaphore/pkg/hub"
	"github.com/teslashibe/go-semaphore/pkg/playback"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
	"github.com/teslashibe/go-semaphore/pkg/settings"
)

// StatusResponse is returned by /api/status and the control endpoints
type StatusResponse struct {
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Epoch   uint64 `json:"epoch"`
	Session string `json:"session,omitempty"`
	Source  string `json:"source,omitempty"`
	Halted  bool   `json:"halted"`

	Text    string `json:"text"`
	Display string `json:"display"`
	Held    bool   `json:"held"`

	Settings protocol.SettingsData `json:"settings"`

	Queued  int    `json:"queued"`
	Dropped uint64 `json:"dropped"`
	Frames  uint64 `json:"frames"`
	Samples uint64 `json:"samples"`
	Stale   uint64 `json:"stale"`
	Commits int    `json:"commits"`
}

// LanguageOption describes a selectable alphabet
type LanguageOption struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Letters int    `json:"letters"`
}

// OptionsResponse lists the selectable settings
type OptionsResponse struct {
	Languages    []LanguageOption `json:"languages"`
	DwellSeconds []float64        `json:"dwell_seconds"`
}

func (s *Server) status() StatusResponse {
	snap := s.decoder.Snapshot()
	return StatusResponse{
		State:    snap.Playback.State.String(),
		Reason:   snap.Playback.Reason.String(),
		Epoch:    snap.Playback.Epoch,
		Session:  snap.Session,
		Source:   snap.Playback.Source,
		Halted:   snap.Playback.Halted,
		Text:     snap.Text,
		Display:  snap.Display.Label(),
		Held:     snap.Held,
		Settings: settingsData(snap.Settings),
		Queued:   snap.Stream.Len,
		Dropped:  snap.Stream.Dropped,
		Frames:   snap.Frames,
		Samples:  snap.Samples,
		Stale:    snap.Stale,
		Commits:  snap.Commits,
	}
}

func settingsData(st settings.Settings) protocol.SettingsData {
	return protocol.SettingsData{
		Language:     string(st.Language),
		DwellSeconds: st.DwellSeconds(),
	}
}

// handleStatus returns the decoder state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleStart opens the source and starts a session
func (s *Server) handleStart(c *fiber.Ctx) error {
	if s.open == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no frame source configured")
	}
	if err := s.decoder.Start(s.open); err != nil {
		return controlError(err)
	}
	return c.JSON(s.status())
}

// handlePause toggles between playing and paused
func (s *Server) handlePause(c *fiber.Ctx) error {
	if _, err := s.decoder.TogglePause(); err != nil {
		return controlError(err)
	}
	return c.JSON(s.status())
}

// handleRestart discards the session and returns to idle
func (s *Server) handleRestart(c *fiber.Ctx) error {
	s.decoder.Restart()
	return c.JSON(s.status())
}

// handleGetSettings returns the active settings
func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(settingsData(s.decoder.Settings().Get()))
}

// handlePutSettings applies a partial settings update
func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	params := make(map[string]any)
	if err := c.BodyParser(&params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid settings body")
	}
	sm := s.decoder.Settings()
	if err := sm.Update(params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(settingsData(sm.Get()))
}

// handleSettingsOptions lists languages and dwell presets
func (s *Server) handleSettingsOptions(c *fiber.Ctx) error {
	var out OptionsResponse
	for _, lang := range semaphore.Languages() {
		t, ok := semaphore.TableFor(lang)
		if !ok {
			continue
		}
		out.Languages = append(out.Languages, LanguageOption{
			Code:    string(lang),
			Name:    t.Name(),
			Letters: t.Len(),
		})
	}
	for _, d := range settings.DwellPresets {
		out.DwellSeconds = append(out.DwellSeconds, d.Seconds())
	}
	return c.JSON(out)
}

func controlError(err error) error {
	switch {
	case errors.Is(err, playback.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, playback.ErrStartFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}

// handleEventsWS streams decoder events. New clients first receive the
// current settings and playback state.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	hub.NewGreetedClient(s.events, c, s.greeting).Run()
}

// greeting is the current settings and state, sent to each new events
// client before any broadcast
func (s *Server) greeting() []hub.Message {
	st := s.decoder.Settings().Get()
	msgs := make([]hub.Message, 0, 2)
	for _, build := range []func() (*protocol.Message, error){
		func() (*protocol.Message, error) {
			return protocol.NewSettingsMessage(string(st.Language), st.DwellSeconds())
		},
		func() (*protocol.Message, error) {
			return protocol.NewStateMessage(s.lastState())
		},
	} {
		msg, err := build()
		if err != nil {
			continue
		}
		if m, err := hub.FromProtocol(msg); err == nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// handleCameraWS streams JPEG preview frames as binary messages
func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.NewClient(s.camera, c).Run()
}
