package fs

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

type SessionFile string

func SessionFileFrom(path string) SessionFile {
	return SessionFile(path)
}

type SessionFileContent struct {
	AntiForgeryToken string `json:"anti_forgery_token"`
	AccountID        string `json:"account_id"`
	LicenseToken     string `json:"license_token"`
	Premium          bool   `json:"premium"`
	Lossless         bool   `json:"lossless"`
	High             bool   `json:"high"`
}

func (f SessionFile) Read() (c *SessionFileContent, err error) {
	file, err := os.OpenFile(f.path(), os.O_RDONLY, 0o0600)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}

		return nil, fmt.Errorf("open session file: %v", err)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close session file: %v", closeErr))
		}
	}()

	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.DecodeWithOption(&c, json.DecodeFieldPriorityFirstWin()); nil != err {
		return nil, fmt.Errorf("decode session file contents: %v", err)
	}

	return c, nil
}

func (f SessionFile) Write(c SessionFileContent) (err error) {
	file, err := os.OpenFile(f.path(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o0600)
	if nil != err {
		return fmt.Errorf("open session file: %v", err)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close session file: %v", closeErr))
		}
	}()

	if err := json.NewEncoder(file).EncodeWithOption(c); nil != err {
		return fmt.Errorf("encode session file: %v", err)
	}

	return nil
}

func (f SessionFile) Remove() error {
	if err := os.Remove(f.path()); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %v", err)
	}

	return nil
}

func (f SessionFile) path() string {
	return string(f)
}
