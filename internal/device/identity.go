package device

import (
	"fmt"
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"

	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

// EnvDeviceID overrides the discovered device ID.
const EnvDeviceID = "LIGHTBRINGER_DEVICE_ID"

const idLength = 12

// DiscoverDeviceID returns the ID a device announces itself with: the
// EnvDeviceID variable when set, otherwise a stable app-scoped hash of the
// machine ID.
func DiscoverDeviceID() (string, error) {
	if envID := strings.TrimSpace(os.Getenv(EnvDeviceID)); envID != "" {
		log.Info("Device ID detected from env", "id", envID)
		return envID, nil
	}

	id, err := machineid.ProtectedID("lightbringer")
	if err != nil {
		return "", fmt.Errorf("read machine id: %w", err)
	}
	if len(id) > idLength {
		id = id[:idLength]
	}
	log.Info("Device ID derived from machine id", "id", id)
	return id, nil
}
