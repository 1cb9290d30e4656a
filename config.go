package acqcore

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// MakeFileExist checks that dir/filename exists, creating the directory
// and an empty file if either is missing. Grounded on dastard's
// cmd/dastard/dastard.go makeFileExist.
func MakeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}

	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err != nil {
			return "", err
		}
		f.Close()
	}
	return fullname, nil
}

// SetupViper locates (creating if necessary) and reads the acqcored
// config file, searching /etc/acqcored, $HOME/.acqcored and the working
// directory in that order. Grounded on dastard's setupViper
// (cmd/dastard/dastard.go).
func SetupViper() error {
	viper.SetDefault("Verbose", false)

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("acqcore: could not find user home dir: %s\n", err)
	}
	dotDir := filepath.Join(home, ".acqcored")
	const filename = "config"
	const suffix = ".yaml"
	if _, err := MakeFileExist(dotDir, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/acqcored"))
	viper.AddConfigPath(dotDir)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}
