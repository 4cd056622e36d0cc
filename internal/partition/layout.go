package partition

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
)

const appAlign = 0x10000

//go:embed default_layout.yaml
var defaultLayout []byte

// Layout is the human-edited description of a flash image, the YAML
// counterpart of a partitions.csv.
type Layout struct {
	FlashSize   uint32        `yaml:"flash-size"`
	TableOffset uint32        `yaml:"table-offset"`
	Partitions  []LayoutEntry `yaml:"partitions"`
}

// LayoutEntry is one partition line. Type and SubType accept symbolic names
// (app, data, ota_1, nvs, ...) or numbers.
type LayoutEntry struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	SubType string `yaml:"subtype"`
	Offset  uint32 `yaml:"offset"`
	Size    uint32 `yaml:"size"`
	Flags   uint32 `yaml:"flags"`
}

// DefaultLayout returns the layout the dimmer ships with.
func DefaultLayout() *Layout {
	l, err := ParseLayout(defaultLayout)
	if err != nil {
		panic(fmt.Sprintf("embedded partition layout is invalid: %v", err))
	}
	return l
}

// LoadLayout reads a YAML layout file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes and validates a YAML layout.
func ParseLayout(data []byte) (*Layout, error) {
	l := &Layout{TableOffset: TableOffset}
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if _, err := l.Entries(); err != nil {
		return nil, err
	}
	return l, nil
}

// Entries converts and validates the layout.
func (l *Layout) Entries() ([]Entry, error) {
	var errs []error
	entries := make([]Entry, 0, len(l.Partitions))
	names := make(map[string]bool, len(l.Partitions))

	if l.FlashSize == 0 || l.FlashSize%flash.SectorSize != 0 {
		errs = append(errs, fmt.Errorf("flash-size 0x%x must be a non-zero multiple of 0x%x", l.FlashSize, flash.SectorSize))
	}
	if l.TableOffset%flash.SectorSize != 0 {
		errs = append(errs, fmt.Errorf("table-offset 0x%x is not sector aligned", l.TableOffset))
	}

	for _, p := range l.Partitions {
		t, err := ParseType(p.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		sub, err := ParseSubType(t, p.SubType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate partition name %q", p.Name))
		}
		names[p.Name] = true

		align := uint32(flash.SectorSize)
		if t == TypeApp {
			align = appAlign
		}
		if p.Offset%align != 0 {
			errs = append(errs, fmt.Errorf("%s: offset 0x%x not aligned to 0x%x", p.Name, p.Offset, align))
		}
		if p.Size == 0 || p.Size%flash.SectorSize != 0 {
			errs = append(errs, fmt.Errorf("%s: size 0x%x must be a non-zero multiple of 0x%x", p.Name, p.Size, flash.SectorSize))
		}
		if uint64(p.Offset)+uint64(p.Size) > uint64(l.FlashSize) {
			errs = append(errs, fmt.Errorf("%s: ends past flash size 0x%x", p.Name, l.FlashSize))
		}
		if p.Offset < l.TableOffset+flash.SectorSize && p.Offset+p.Size > l.TableOffset {
			errs = append(errs, fmt.Errorf("%s: overlaps the partition table", p.Name))
		}

		entries = append(entries, Entry{
			Type:    t,
			SubType: sub,
			Offset:  p.Offset,
			Size:    p.Size,
			Name:    p.Name,
			Flags:   p.Flags,
		})
	}

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		if uint64(prev.Offset)+uint64(prev.Size) > uint64(sorted[i].Offset) {
			errs = append(errs, fmt.Errorf("%s overlaps %s", prev.Name, sorted[i].Name))
		}
	}

	if err := utilerrors.NewAggregate(errs); err != nil {
		return nil, err
	}
	return entries, nil
}

// Install writes the binary table for this layout onto s.
func (l *Layout) Install(s flash.Storage) error {
	if s.Capacity() < l.FlashSize {
		return fmt.Errorf("flash capacity 0x%x smaller than layout size 0x%x", s.Capacity(), l.FlashSize)
	}
	entries, err := l.Entries()
	if err != nil {
		return err
	}
	raw, err := Encode(entries)
	if err != nil {
		return err
	}
	if err := s.Write(l.TableOffset, raw); err != nil {
		return fmt.Errorf("write partition table: %w", err)
	}
	return nil
}
