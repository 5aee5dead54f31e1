package filesystem

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPlatformUtils 测试平台兼容性工具
func TestPlatformUtils(t *testing.T) {
	utils := NewPlatformUtils()

	t.Run("validate path", func(t *testing.T) {
		assert.NoError(t, utils.ValidatePath("/var/mail"))
		assert.NoError(t, utils.ValidatePath("./mail..backup"))
		assert.Error(t, utils.ValidatePath(""))
		assert.Error(t, utils.ValidatePath("/var/../etc"))
		assert.Error(t, utils.ValidatePath(`C:\mail\..\windows`))
		assert.Error(t, utils.ValidatePath(strings.Repeat("a", 2001)))
	})

	t.Run("validate name", func(t *testing.T) {
		testCases := []struct {
			input string
			valid bool
		}{
			{"0b6f9c1e-5b8a-4b52-9d6c-1f2e3d4c5b6a", true},
			{"report.pdf", true},
			{"", false},
			{".", false},
			{"..", false},
			{"a/b", false},
			{`a\b`, false},
			{"a\x00b", false},
		}
		for _, tc := range testCases {
			err := utils.ValidateName(tc.input)
			assert.Equal(t, tc.valid, err == nil, "Input: %q", tc.input)
		}
	})

	t.Run("normalize path", func(t *testing.T) {
		normalized := utils.NormalizePath("relative/./mail/")
		assert.True(t, filepath.IsAbs(normalized))
		assert.False(t, strings.HasSuffix(normalized, string(filepath.Separator)))
	})

	t.Run("contains", func(t *testing.T) {
		root := utils.NormalizePath("/srv/mail")
		assert.True(t, utils.Contains(root, filepath.Join(root, "id.eml")))
		assert.True(t, utils.Contains(root, filepath.Join(root, "id", "a.txt")))
		assert.False(t, utils.Contains(root, filepath.Join(root, "..", "etc", "passwd")))
		assert.False(t, utils.Contains(root, "/srv/mailbox/id.eml"))
	})
}
