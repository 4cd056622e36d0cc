package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

// Provision writes the partition table of layout and an initial descriptor
// onto an erased flash. The factory image in slot 0 starts out Undefined,
// which counts as accepted.
func Provision(f flash.Storage, layout *partition.Layout, label [ota.LabelSize]byte) error {
	if err := layout.Install(f); err != nil {
		return fmt.Errorf("install partition table: %w", err)
	}
	dir := partition.NewDirectoryAt(f, layout.TableOffset)
	if err := ota.NewStore(f, dir).Format(ota.NewDescriptor(0, label, ota.StateUndefined)); err != nil {
		return fmt.Errorf("format ota data: %w", err)
	}
	return nil
}

// OpenFlash opens the image at path. A missing image is created from layout
// and provisioned when create is set.
func OpenFlash(path string, create bool, layout *partition.Layout) (*flash.File, error) {
	f, err := flash.OpenFile(path)
	if err == nil {
		return f, nil
	}
	if !create || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	log.Info("Provisioning new flash image", "path", path, "size", layout.FlashSize)
	f, err = flash.CreateFile(path, layout.FlashSize)
	if err != nil {
		return nil, err
	}
	if err := Provision(f, layout, ota.DefaultLabel); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return f, nil
}
