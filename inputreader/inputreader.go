// Package inputreader implements the input-reader subcommand: a tiny
// interactive prompt that writes entered text into the player's property
// namespace, standing in for a native GUI popup.
package inputreader

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/rs/zerolog"

	"github.com/rtldg/simulcast-mpv/client"
	"github.com/rtldg/simulcast-mpv/ipc"
)

// Mode selects which property the entered text is written to.
type Mode string

const (
	ModeRoomCode Mode = "room-code"
	ModeChat     Mode = "chat"
)

func (m Mode) property() (string, error) {
	switch m {
	case ModeRoomCode:
		return client.PropCustomRoomCode, nil
	case ModeChat:
		return client.PropTextChat, nil
	default:
		return "", fmt.Errorf("inputreader: unknown mode %q", m)
	}
}

func (m Mode) prompt() string {
	if m == ModeChat {
		return "Message:"
	}
	return "Custom room code:"
}

// Run prompts the user for a line of text and writes it into the player's
// IPC property namespace over a fresh, short-lived connection to
// playerSock.
func Run(playerSock string, mode Mode, logger *zerolog.Logger) error {
	prop, err := mode.property()
	if err != nil {
		return err
	}

	input := survey.Input{
		Message: mode.prompt(),
	}
	var response string
	if err := survey.AskOne(&input, &response); err != nil {
		return fmt.Errorf("inputreader: prompt: %w", err)
	}
	if response == "" {
		return nil
	}

	c, err := ipc.Connect(playerSock, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.SetProperty(prop, response)
}
