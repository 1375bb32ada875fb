package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	parser := NewCommandParser()

	cases := []struct {
		name      string
		text      string
		wantCmd   string
		wantArgs  []string
		isCommand bool
	}{
		{"слэш с аргументом", "/link alice-gh", "link", []string{"alice-gh"}, true},
		{"восклицательный знак", "!leaderboard", "leaderboard", nil, true},
		{"точка", ".help", "help", nil, true},
		{"упоминание бота в группе", "/update@gitgame_bot", "update", nil, true},
		{"упоминание бота с аргументом", "/setrepo@gitgame_bot octo/game", "setrepo", []string{"octo/game"}, true},
		{"несколько аргументов", "/setrepo octo game", "setrepo", []string{"octo", "game"}, true},
		{"регистр приводится к нижнему", "/LeaderBoard", "leaderboard", nil, true},
		{"лишние пробелы", "  /link   alice-gh  ", "link", []string{"alice-gh"}, true},
		{"обычный текст", "привет всем", "", nil, false},
		{"пустая строка", "", "", nil, false},
		{"голый префикс", "/", "", nil, false},
		{"префикс с пробелами", "/   ", "", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, args, ok := parser.ParseCommand(tc.text)
			assert.Equal(t, tc.isCommand, ok)
			assert.Equal(t, tc.wantCmd, cmd)
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}
