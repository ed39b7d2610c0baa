package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "separate value form",
			args:         []string{"-c", "vault.json", "-a", "https://vault.example"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "vault.json"},
		},
		{
			name:         "equals form",
			args:         []string{"-config=vault.json", "-d", "local.db"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-config=vault.json"},
		},
		{
			name:         "foreign flags dropped",
			args:         []string{"-i", "30", "-k=jwt", "restore"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{},
		},
		{
			name:         "several owned flags keep order",
			args:         []string{"-a", "https://vault.example", "-x", "1", "-d", "local.db"},
			allowedFlags: []string{"-d", "-a"},
			want:         []string{"-a", "https://vault.example", "-d", "local.db"},
		},
		{
			name:         "trailing flag without value",
			args:         []string{"-c"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "dash-led token is not a value",
			args:         []string{"-c", "-d"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "repeated flag preserved",
			args:         []string{"-c", "one.json", "-c", "two.json"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "one.json", "-c", "two.json"},
		},
		{
			name:         "empty input",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FilterArgs(tc.args, tc.allowedFlags))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short form", func(t *testing.T) {
		os.Args = []string{"passvault", "-c", "/etc/passvault/conf.json"}
		assert.Equal(t, "/etc/passvault/conf.json", JsonConfigFlags())
	})

	t.Run("long form", func(t *testing.T) {
		os.Args = []string{"passvault", "-config", "/etc/passvault/conf.json"}
		assert.Equal(t, "/etc/passvault/conf.json", JsonConfigFlags())
	})

	t.Run("absent", func(t *testing.T) {
		os.Args = []string{"passvault", "-d", "local.db"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("last occurrence wins", func(t *testing.T) {
		os.Args = []string{"passvault", "-c", "a.json", "-config", "b.json"}
		assert.Equal(t, "b.json", JsonConfigFlags())
	})
}
