package fs

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

type CredentialFile string

func CredentialFileFrom(path string) CredentialFile {
	return CredentialFile(path)
}

type CredentialFileContent struct {
	ARL string `json:"arl"`
}

func (f CredentialFile) Read() (c *CredentialFileContent, err error) {
	file, err := os.OpenFile(string(f), os.O_RDONLY, 0o0600)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}

		return nil, fmt.Errorf("open credential file: %v", err)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close credential file: %v", closeErr))
		}
	}()

	if err := json.NewDecoder(file).Decode(&c); nil != err {
		return nil, fmt.Errorf("decode credential file contents: %v", err)
	}

	return c, nil
}

func (f CredentialFile) Write(c CredentialFileContent) (err error) {
	file, err := os.OpenFile(string(f), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o0600)
	if nil != err {
		return fmt.Errorf("open credential file: %v", err)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close credential file: %v", closeErr))
		}
	}()

	if err := json.NewEncoder(file).Encode(c); nil != err {
		return fmt.Errorf("encode credential file: %v", err)
	}

	return nil
}
