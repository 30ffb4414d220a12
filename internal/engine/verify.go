package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

// ErrUndecodable 表示开启 VerifyImages 时载荷无法解码为图片。
var ErrUndecodable = errors.New("payload is not a decodable image")

func verifyFile(path string) error {
	if _, err := imaging.Open(path); err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return nil
}

func verifyBytes(data []byte) error {
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return nil
}
