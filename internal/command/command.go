// Package command turns raw chat input into typed wager commands.
//
// Text commands arrive as a command name plus its space separated arguments
// (telebot's c.Args()). Inline button presses carry callback data in the form
// "w|<action>|<session id>[|<arg>]", built by Callback and read back by
// ParseCallback.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse errors.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind identifies a wager action.
type Kind string

// Wager actions.
const (
	CreateLobby   Kind = "create_lobby"
	JoinLobby     Kind = "join"
	SetReady      Kind = "ready"
	StartLobby    Kind = "start"
	LeaveLobby    Kind = "leave"
	RollDice      Kind = "roll"
	CreateMatch   Kind = "create_match"
	JoinMatch     Kind = "join_match"
	CancelSession Kind = "cancel"
	CreateDuel    Kind = "create_duel"
	AcceptDuel    Kind = "accept"
)

// CallbackPrefix marks callback data owned by the wager router.
const CallbackPrefix = "w"

// Command is one parsed wager action. Only the fields relevant to Kind are set.
type Command struct {
	Kind       Kind
	SessionID  string
	Code       string
	Stake      decimal.Decimal
	MaxPlayers int
	Ready      bool
}

// Text command names as registered with the bot.
const (
	TextLobby     = "/lobby"
	TextJoin      = "/join"
	TextReady     = "/ready"
	TextUnready   = "/unready"
	TextStart     = "/startgame"
	TextLeave     = "/leave"
	TextRoll      = "/roll"
	TextMatch     = "/match"
	TextJoinMatch = "/joinmatch"
	TextCancel    = "/cancel"
	TextDuel      = "/duel"
	TextAccept    = "/accept"
)

// TextCommands lists every text command Parse understands.
var TextCommands = []string{
	TextLobby, TextJoin, TextReady, TextUnready, TextStart, TextLeave,
	TextRoll, TextMatch, TextJoinMatch, TextCancel, TextDuel, TextAccept,
}

// Parse builds a Command from a text command and its arguments. name may
// carry a "@botname" suffix.
func Parse(name string, args []string) (Command, error) {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	switch strings.ToLower(name) {
	case TextLobby:
		stake, err := stakeArg(args)
		if err != nil {
			return Command{}, err
		}
		cmd := Command{Kind: CreateLobby, Stake: stake}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return Command{}, fmt.Errorf("players %q: %w", args[1], ErrInvalidArgument)
			}
			cmd.MaxPlayers = n
		}
		return cmd, nil

	case TextMatch:
		stake, err := stakeArg(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CreateMatch, Stake: stake}, nil

	case TextDuel:
		stake, err := stakeArg(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CreateDuel, Stake: stake}, nil

	case TextJoinMatch:
		code, err := idArg(args, "code")
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: JoinMatch, Code: code}, nil

	case TextAccept:
		// The duel id is optional; without it the chat's open duel is meant.
		cmd := Command{Kind: AcceptDuel}
		if len(args) > 0 {
			cmd.SessionID = normalizeID(args[0])
		}
		return cmd, nil

	case TextJoin:
		return sessionCommand(JoinLobby, args)
	case TextReady:
		cmd, err := sessionCommand(SetReady, args)
		cmd.Ready = true
		return cmd, err
	case TextUnready:
		return sessionCommand(SetReady, args)
	case TextStart:
		return sessionCommand(StartLobby, args)
	case TextLeave:
		return sessionCommand(LeaveLobby, args)
	case TextRoll:
		return sessionCommand(RollDice, args)
	case TextCancel:
		return sessionCommand(CancelSession, args)
	}

	return Command{}, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
}

// IsCallback reports whether callback data belongs to the wager router.
func IsCallback(data string) bool {
	data = strings.TrimPrefix(data, "\f")
	return strings.HasPrefix(data, CallbackPrefix+"|")
}

// ParseCallback decodes inline button data produced by Callback.
func ParseCallback(data string) (Command, error) {
	// telebot prefixes unique-keyed callback data with \f.
	data = strings.TrimPrefix(data, "\f")

	parts := strings.Split(data, "|")
	if len(parts) < 3 || parts[0] != CallbackPrefix {
		return Command{}, fmt.Errorf("callback %q: %w", data, ErrInvalidArgument)
	}
	if parts[2] == "" {
		return Command{}, fmt.Errorf("callback %q: session id: %w", data, ErrMissingArgument)
	}

	cmd := Command{Kind: Kind(parts[1]), SessionID: parts[2]}
	switch cmd.Kind {
	case JoinLobby, StartLobby, LeaveLobby, RollDice, CancelSession, AcceptDuel:
		if len(parts) != 3 {
			return Command{}, fmt.Errorf("callback %q: %w", data, ErrInvalidArgument)
		}
	case SetReady:
		if len(parts) != 4 {
			return Command{}, fmt.Errorf("callback %q: ready flag: %w", data, ErrMissingArgument)
		}
		ready, err := strconv.ParseBool(parts[3])
		if err != nil {
			return Command{}, fmt.Errorf("callback %q: %w", data, ErrInvalidArgument)
		}
		cmd.Ready = ready
	default:
		return Command{}, fmt.Errorf("callback action %q: %w", parts[1], ErrUnknownCommand)
	}

	return cmd, nil
}

// Callback encodes a button action for ParseCallback. Callback data is
// limited to 64 bytes by Telegram; session ids keep it far below that.
func Callback(kind Kind, sessionID string, arg ...string) string {
	parts := append([]string{CallbackPrefix, string(kind), sessionID}, arg...)
	return strings.Join(parts, "|")
}

// ReadyCallback encodes a ready toggle.
func ReadyCallback(sessionID string, ready bool) string {
	return Callback(SetReady, sessionID, strconv.FormatBool(ready))
}

func sessionCommand(kind Kind, args []string) (Command, error) {
	id, err := idArg(args, "session id")
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: kind, SessionID: id}, nil
}

func idArg(args []string, what string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s: %w", what, ErrMissingArgument)
	}
	return normalizeID(args[0]), nil
}

// normalizeID upper-cases ids and codes so typed input matches generated ones.
func normalizeID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func stakeArg(args []string) (decimal.Decimal, error) {
	if len(args) == 0 {
		return decimal.Zero, fmt.Errorf("stake: %w", ErrMissingArgument)
	}
	stake, err := decimal.NewFromString(strings.ReplaceAll(args[0], ",", "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("stake %q: %w", args[0], ErrInvalidArgument)
	}
	return stake, nil
}
