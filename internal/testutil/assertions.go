package testutil

import (
	"errors"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// AssertFileContent asserts that path exists and holds exactly want.
func AssertFileContent(t testing.TB, path, want string, msgAndArgs ...interface{}) bool {
	t.Helper()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return assert.Fail(t, "file does not exist: "+path, msgAndArgs...)
	}
	if !assert.NoError(t, err, msgAndArgs...) {
		return false
	}
	return assert.Equal(t, want, string(data), msgAndArgs...)
}

// AssertUntouched asserts that nothing was written at path.
func AssertUntouched(t testing.TB, path string, msgAndArgs ...interface{}) bool {
	t.Helper()

	_, err := os.Stat(path)
	return assert.True(t, errors.Is(err, fs.ErrNotExist), append([]interface{}{"expected no file at %s", path}, msgAndArgs...)...)
}

// AssertEventually asserts that condition becomes true within waitFor.
func AssertEventually(t testing.TB, condition func() bool, waitFor, tick time.Duration, msgAndArgs ...interface{}) bool {
	t.Helper()
	return assert.Eventually(t, condition, waitFor, tick, msgAndArgs...)
}
