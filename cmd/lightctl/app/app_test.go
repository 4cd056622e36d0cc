package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanBrouwer/lightbringer/internal/ota"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewLightctlCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func mkimage(t *testing.T) string {
	t.Helper()
	img := filepath.Join(t.TempDir(), "dimmer.flash")
	factory := writeFile(t, "factory.bin", bytes.Repeat([]byte{0x11}, 1024))
	out, err := execute(t, "mkimage", img, "--app", factory)
	require.NoError(t, err)
	assert.Contains(t, out, "created")
	return img
}

func TestInspectFreshImage(t *testing.T) {
	img := mkimage(t)

	out, err := execute(t, "partitions", img)
	require.NoError(t, err)
	for _, name := range []string{"otadata", "ota_0", "ota_1", "userdata"} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, "descriptor", img)
	require.NoError(t, err)
	assert.Contains(t, out, "Undefined")
	assert.Contains(t, out, "CURRENT")
}

func TestUpdateCycle(t *testing.T) {
	img := mkimage(t)
	update := writeFile(t, "update.bin", bytes.Repeat([]byte{0x22}, 5000))

	out, err := execute(t, "flash", img, update)
	require.NoError(t, err)
	assert.Contains(t, out, "New")

	// The fresh image is not accepted yet.
	_, err = execute(t, "flash", img, update)
	assert.ErrorIs(t, err, ota.ErrPendingVerify)

	out, err = execute(t, "boot", img)
	require.NoError(t, err)
	assert.Contains(t, out, "PendingVerify")
	assert.Contains(t, out, "ota_1")

	out, err = execute(t, "accept", img)
	require.NoError(t, err)
	assert.Contains(t, out, "Valid")

	_, err = execute(t, "flash", img, update)
	require.NoError(t, err)
}

func TestUnconfirmedUpdateFallsBack(t *testing.T) {
	img := mkimage(t)
	update := writeFile(t, "update.bin", []byte{1, 2, 3, 4})

	_, err := execute(t, "flash", img, update)
	require.NoError(t, err)
	_, err = execute(t, "boot", img)
	require.NoError(t, err)

	out, err := execute(t, "boot", img)
	require.NoError(t, err)
	assert.Contains(t, out, "1 (Aborted)")
	assert.Contains(t, out, "ota_0")
	assert.Contains(t, out, "true")

	// The running factory image is recorded again, so a new update is taken.
	out, err = execute(t, "flash", img, update)
	require.NoError(t, err)
	assert.Contains(t, out, "New")
}

func TestRejectMarksInvalid(t *testing.T) {
	img := mkimage(t)
	out, err := execute(t, "reject", img)
	require.NoError(t, err)
	assert.Contains(t, out, "Invalid")
}

func TestFlashArgumentErrors(t *testing.T) {
	img := mkimage(t)

	_, err := execute(t, "flash", img)
	assert.ErrorContains(t, err, "no image")

	_, err = execute(t, "flash", img, "x.bin", "--object", "v1/light.bin")
	assert.ErrorContains(t, err, "not both")

	_, err = execute(t, "flash", img, "--object", "v1/light.bin")
	assert.ErrorContains(t, err, "--s3.endpoint")

	_, err = execute(t, "push", img, "key")
	assert.ErrorContains(t, err, "--s3.endpoint")
}

func TestLabel(t *testing.T) {
	var l [ota.LabelSize]byte
	copy(l[:], "factory")
	assert.Equal(t, "factory", label(l))
	assert.Equal(t, "eded", label(ota.DefaultLabel)[:4])
}

func TestRemoteNeedsBroker(t *testing.T) {
	_, err := execute(t, "remote", "set", "dimmer-1")
	assert.ErrorContains(t, err, "--mqtt.broker")

	_, err = execute(t, "remote", "update", "dimmer-1")
	assert.ErrorContains(t, err, "exactly one")
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "light/state", suffix("lightbringer/d1/light/state", "d1"))
	assert.Equal(t, "x", suffix("x", "d1"))
}
