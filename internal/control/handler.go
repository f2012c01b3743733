// Package control exposes the session controller over a persistent
// websocket connection carrying one text command per message. Keywords are
// case-sensitive; unknown commands are logged and ignored without dropping
// the connection.
package control

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/signlab/obsrelay/internal/session"
)

// Command keywords of the control protocol.
const (
	cmdStart        = "Start"
	cmdStop         = "Stop"
	cmdKill         = "Kill"
	cmdSetName      = "SetName"
	cmdSendPrevious = "SendFilePrevious"
	cmdHealth       = "health"
)

// action tells the connection loop what to do after a command.
type action int

const (
	actionNone action = iota
	// actionReply carries a single response line back to the caller.
	actionReply
	// actionKill closes the connection after the grace delay and shuts the
	// orchestrator down.
	actionKill
)

// Handler decodes inbound commands into session controller calls.
type Handler struct {
	ctrl *session.Controller
	log  zerolog.Logger
}

// NewHandler builds a command handler around the controller.
func NewHandler(ctrl *session.Controller, log zerolog.Logger) *Handler {
	return &Handler{ctrl: ctrl, log: log}
}

// Handle executes one command line and reports what the connection should
// do next. Errors from the controller are logged, never returned: every
// failure is recoverable at this layer and must not kill the channel.
func (h *Handler) Handle(line string) (action, string) {
	line = strings.TrimRight(line, "\r\n")

	switch {
	case line == cmdStart:
		h.log.Info().Msg("control: Start")
		if err := h.ctrl.StartRecording(); err != nil {
			h.log.Error().Err(err).Msg("start rejected")
		}
		return actionNone, ""

	case line == cmdStop:
		h.log.Info().Msg("control: Stop")
		if err := h.ctrl.StopRecording(); err != nil {
			h.log.Error().Err(err).Msg("stop rejected")
		}
		return actionNone, ""

	case line == cmdKill:
		h.log.Info().Msg("control: Kill")
		h.ctrl.Disconnect()
		return actionKill, ""

	case line == cmdHealth:
		ok, msg := h.ctrl.CheckHealth()
		if ok {
			return actionReply, "Good"
		}
		return actionReply, msg

	case strings.HasPrefix(line, cmdSetName):
		label := strings.TrimSpace(strings.TrimPrefix(line, cmdSetName))
		h.log.Info().Str("label", label).Msg("control: SetName")
		if label == "" {
			h.log.Error().Msg("SetName without a label ignored")
			return actionNone, ""
		}
		queued, err := h.ctrl.SetSaveLocation("", label)
		if err != nil {
			h.log.Error().Err(err).Msg("save-location change failed")
		} else if queued {
			h.log.Info().Str("label", label).Msg("save-location change queued")
		}
		return actionNone, ""

	case strings.HasPrefix(line, cmdSendPrevious):
		h.log.Info().Str("command", line).Msg("control: SendFilePrevious")
		host, port, err := parseSendTarget(line)
		if err != nil {
			h.log.Error().Err(err).Msg("SendFilePrevious ignored")
			return actionNone, ""
		}
		if err := h.ctrl.SendPrevious(host, port); err != nil {
			h.log.Error().Err(err).Msg("previous session transfer failed")
		}
		return actionNone, ""

	default:
		h.log.Warn().Str("command", line).Msg("unknown control command ignored")
		return actionNone, ""
	}
}

// parseSendTarget extracts host and port from "SendFilePrevious <host> <port>".
func parseSendTarget(line string) (string, int, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", 0, strconvError(line)
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, strconvError(line)
	}
	return fields[1], port, nil
}

type strconvError string

func (e strconvError) Error() string {
	return "expected 'SendFilePrevious <host> <port>', got: " + string(e)
}
