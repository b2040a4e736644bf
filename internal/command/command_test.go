package command

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		args    []string
		want    Command
		wantErr error
	}{
		{"lobby with players", "/lobby", []string{"10", "4"}, Command{Kind: CreateLobby, Stake: decimal.NewFromInt(10), MaxPlayers: 4}, nil},
		{"lobby default players", "/lobby", []string{"2.50"}, Command{Kind: CreateLobby, Stake: decimal.RequireFromString("2.5")}, nil},
		{"lobby comma decimal", "/lobby", []string{"2,5"}, Command{Kind: CreateLobby, Stake: decimal.RequireFromString("2.5")}, nil},
		{"lobby bad players", "/lobby", []string{"10", "x"}, Command{}, ErrInvalidArgument},
		{"lobby no stake", "/lobby", nil, Command{}, ErrMissingArgument},
		{"lobby bad stake", "/lobby", []string{"ten"}, Command{}, ErrInvalidArgument},
		{"match", "/match", []string{"15"}, Command{Kind: CreateMatch, Stake: decimal.NewFromInt(15)}, nil},
		{"duel with bot suffix", "/duel@dicebot", []string{"5"}, Command{Kind: CreateDuel, Stake: decimal.NewFromInt(5)}, nil},
		{"join match lower-case code", "/joinmatch", []string{"ab12cd"}, Command{Kind: JoinMatch, Code: "AB12CD"}, nil},
		{"join match no code", "/joinmatch", nil, Command{}, ErrMissingArgument},
		{"join lobby", "/join", []string{"a1b2c3d4"}, Command{Kind: JoinLobby, SessionID: "A1B2C3D4"}, nil},
		{"ready", "/ready", []string{"A1B2C3D4"}, Command{Kind: SetReady, SessionID: "A1B2C3D4", Ready: true}, nil},
		{"unready", "/unready", []string{"A1B2C3D4"}, Command{Kind: SetReady, SessionID: "A1B2C3D4"}, nil},
		{"start", "/startgame", []string{"A1B2C3D4"}, Command{Kind: StartLobby, SessionID: "A1B2C3D4"}, nil},
		{"leave", "/leave", []string{"A1B2C3D4"}, Command{Kind: LeaveLobby, SessionID: "A1B2C3D4"}, nil},
		{"roll", "/roll", []string{"A1B2C3D4"}, Command{Kind: RollDice, SessionID: "A1B2C3D4"}, nil},
		{"cancel", "/cancel", []string{"A1B2C3D4"}, Command{Kind: CancelSession, SessionID: "A1B2C3D4"}, nil},
		{"cancel without id", "/cancel", nil, Command{}, ErrMissingArgument},
		{"accept chat duel", "/accept", nil, Command{Kind: AcceptDuel}, nil},
		{"accept by id", "/accept", []string{"d0d0d0d0"}, Command{Kind: AcceptDuel, SessionID: "D0D0D0D0"}, nil},
		{"unknown", "/slots", nil, Command{}, ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text, tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.SessionID, got.SessionID)
			assert.Equal(t, tt.want.Code, got.Code)
			assert.Equal(t, tt.want.MaxPlayers, got.MaxPlayers)
			assert.Equal(t, tt.want.Ready, got.Ready)
			assert.True(t, tt.want.Stake.Equal(got.Stake), "stake %s != %s", got.Stake, tt.want.Stake)
		})
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Command
		wantErr error
	}{
		{"join", "w|join|ABCD1234", Command{Kind: JoinLobby, SessionID: "ABCD1234"}, nil},
		{"telebot prefix", "\fw|roll|ABCD1234", Command{Kind: RollDice, SessionID: "ABCD1234"}, nil},
		{"ready true", "w|ready|ABCD1234|true", Command{Kind: SetReady, SessionID: "ABCD1234", Ready: true}, nil},
		{"ready false", "w|ready|ABCD1234|false", Command{Kind: SetReady, SessionID: "ABCD1234"}, nil},
		{"ready missing flag", "w|ready|ABCD1234", Command{}, ErrMissingArgument},
		{"ready bad flag", "w|ready|ABCD1234|maybe", Command{}, ErrInvalidArgument},
		{"extra arg", "w|leave|ABCD1234|x", Command{}, ErrInvalidArgument},
		{"foreign prefix", "shop_buy|1", Command{}, ErrInvalidArgument},
		{"empty id", "w|join|", Command{}, ErrMissingArgument},
		{"unknown action", "w|explode|ABCD1234", Command{}, ErrUnknownCommand},
		{"text-only kind", "w|create_lobby|ABCD1234", Command{}, ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCallback(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsCallback(t *testing.T) {
	assert.True(t, IsCallback("w|join|X"))
	assert.True(t, IsCallback("\fw|join|X"))
	assert.False(t, IsCallback("duel_accept|1"))
	assert.False(t, IsCallback("wx|join|X"))
}

// **Feature: dice-wager-bot, Property 11: Callback Round Trip**
func TestCallbackRoundTripProperty(t *testing.T) {
	kinds := []Kind{JoinLobby, StartLobby, LeaveLobby, RollDice, CancelSession, AcceptDuel}

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[0-9A-F]{8}`).Draw(t, "id")

		if rapid.Bool().Draw(t, "ready toggle") {
			ready := rapid.Bool().Draw(t, "ready")
			data := ReadyCallback(id, ready)
			if len(data) > 64 {
				t.Fatalf("callback data %q exceeds 64 bytes", data)
			}
			cmd, err := ParseCallback(data)
			if err != nil {
				t.Fatalf("ParseCallback(%q): %v", data, err)
			}
			if cmd.Kind != SetReady || cmd.SessionID != id || cmd.Ready != ready {
				t.Fatalf("round trip of %q gave %+v", data, cmd)
			}
			return
		}

		kind := rapid.SampledFrom(kinds).Draw(t, "kind")
		data := Callback(kind, id)
		cmd, err := ParseCallback(data)
		if err != nil {
			t.Fatalf("ParseCallback(%q): %v", data, err)
		}
		if cmd.Kind != kind || cmd.SessionID != id {
			t.Fatalf("round trip of %q gave %+v", data, cmd)
		}
	})
}
