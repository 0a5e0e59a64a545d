package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "parkctl "+Version))
}

func TestGenerateSecretsCmd(t *testing.T) {
	out, err := run(t, "generate-secrets")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^JWT_SECRET=[0-9a-f]{64}$`, lines[0])
	assert.Regexp(t, `^SESSION_SECRET=[0-9a-f]{64}$`, lines[1])
}

func TestIssueTokenCmd(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes-only"
	userID := uuid.New()

	t.Run("Issued token validates", func(t *testing.T) {
		out, err := run(t, "issue-token", "--secret", secret, "--user-id", userID.String(), "--role", "staff", "--email", "desk@lot.test")
		require.NoError(t, err)

		claims, err := jwt.NewService(secret, 0).ValidateAccessToken(strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, "desk@lot.test", claims.Email)
		assert.True(t, claims.HasRole(jwt.RoleStaff))
	})

	t.Run("Unknown role", func(t *testing.T) {
		_, err := run(t, "issue-token", "--secret", secret, "--user-id", userID.String(), "--role", "valet")
		assert.Error(t, err)
	})

	t.Run("Bad user id", func(t *testing.T) {
		_, err := run(t, "issue-token", "--secret", secret, "--user-id", "42")
		assert.Error(t, err)
	})

	t.Run("Missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := run(t, "issue-token", "--user-id", userID.String())
		assert.Error(t, err)
	})
}

func TestParseLots(t *testing.T) {
	t.Run("Valid file", func(t *testing.T) {
		lots, err := parseLots([]byte(`
lots:
  - code: KEF-P1
    name: Keflavik P1
    total_spaces: 120
  - code: KEF-P2
    name: Keflavik Long Stay
    total_spaces: 300
`))
		require.NoError(t, err)
		require.Len(t, lots, 2)
		assert.Equal(t, "KEF-P1", lots[0].Code)
		assert.Equal(t, 300, lots[1].TotalSpaces)
	})

	cases := map[string]string{
		"empty":        `lots: []`,
		"malformed":    `lots: [`,
		"no capacity":  "lots:\n  - code: A\n    name: A\n    total_spaces: 0\n",
		"missing code": "lots:\n  - name: A\n    total_spaces: 5\n",
		"duplicate":    "lots:\n  - code: A\n    name: A\n    total_spaces: 5\n  - code: A\n    name: B\n    total_spaces: 6\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseLots([]byte(doc))
			assert.Error(t, err)
		})
	}
}
