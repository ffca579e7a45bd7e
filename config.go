package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gravwell/gcfg"
	"github.com/inhies/go-bytesize"

	"novaria/nvm"
)

const (
	defaultLogLevel     = `WARN`
	defaultTimeSlice    = 2
	defaultMaxImageSize = 64 * 1024
	defaultHeapSize     = 1024 * 1024

	maxConfigSize int64 = 1024 * 1024
)

type progDef struct {
	Path       string   //VFS path of the image
	Capability []string //capability grants, one per line
	Autostart  bool     //start it as soon as the machine boots
}

type global struct {
	Log_File       string
	Log_Level      string
	Time_Slice     int
	Max_Image_Size string
	Heap_Size      string
}

type cfgType struct {
	Global  global
	Program map[string]*progDef
}

// GetConfig reads and validates a boot configuration. A missing file is
// reported as an error satisfying os.IsNotExist, which the caller may
// treat as running on defaults.
func GetConfig(path string) (c cfgType, err error) {
	var fin *os.File
	var fi os.FileInfo
	var data []byte

	if fin, err = os.Open(path); err != nil {
		return
	}
	defer fin.Close()
	if fi, err = fin.Stat(); err != nil {
		return
	}

	//This is just a sanity check
	if fi.Size() > maxConfigSize {
		err = errors.New("Config file far too large")
		return
	}
	if data, err = io.ReadAll(fin); err != nil {
		return
	}

	if err = gcfg.ReadStringInto(&c, string(data)); err != nil {
		return
	}
	err = c.Validate()
	return
}

// Validate the data we read in, e.g. is there good stuff there
func (c cfgType) Validate() error {
	switch strings.ToUpper(c.Global.Log_Level) {
	case ``, `OFF`, `DEBUG`, `INFO`, `WARN`, `ERROR`, `CRITICAL`:
	default:
		return fmt.Errorf("invalid Log-Level %q", c.Global.Log_Level)
	}
	if c.Global.Time_Slice < 0 {
		return errors.New("Invalid time slice, must be >= 0")
	}
	if _, err := c.MaxImageSize(); err != nil {
		return err
	}
	if _, err := c.HeapSize(); err != nil {
		return err
	}
	for n, p := range c.Program {
		if len(n) == 0 {
			return errors.New("Program block missing name")
		}
		if strings.TrimSpace(p.Path) == `` {
			return fmt.Errorf("Program %q: empty Path", n)
		}
		if _, err := p.Caps(); err != nil {
			return fmt.Errorf("Program %q: %w", n, err)
		}
	}
	return nil
}

func (c cfgType) LogLevel() string {
	if c.Global.Log_Level == `` {
		return defaultLogLevel
	}
	return strings.ToUpper(c.Global.Log_Level)
}

func (c cfgType) TimeSlice() int {
	if c.Global.Time_Slice == 0 {
		return defaultTimeSlice
	}
	return c.Global.Time_Slice
}

// MaxImageSize caps what the shell will feed the loader; values come in
// human readable form ("64KB").
func (c cfgType) MaxImageSize() (int64, error) {
	return parseSize(c.Global.Max_Image_Size, defaultMaxImageSize)
}

// HeapSize dimensions the hosted physical memory pool.
func (c cfgType) HeapSize() (int64, error) {
	return parseSize(c.Global.Heap_Size, defaultHeapSize)
}

func parseSize(v string, def int64) (int64, error) {
	if v == `` {
		return def, nil
	}
	bs, err := bytesize.Parse(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return int64(bs), nil
}

// Caps resolves a program's grant list to capability tokens.
func (p *progDef) Caps() ([]nvm.Capability, error) {
	caps := make([]nvm.Capability, 0, len(p.Capability))
	for _, name := range p.Capability {
		c, err := nvm.ParseCapability(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, nil
}
