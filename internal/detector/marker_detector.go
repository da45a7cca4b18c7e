package detector

import (
	"errors"
	"os"
)

// MarkerDetector reports ready once Path exists, as used by hot deploy
// directories that drop a marker file when an application is deployed.
type MarkerDetector struct{ Path string }

func (d MarkerDetector) Alive() (bool, error) {
	_, err := os.Stat(d.Path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d MarkerDetector) Describe() string { return "marker:" + d.Path }
