package types

import (
	"fmt"
	"strconv"
)

type Quality int

const (
	QualityStandard Quality = iota
	QualityHigh
	QualityLossless
	QualityLow
	QualityVeryLow
)

func (q Quality) String() string {
	switch q {
	case QualityLossless:
		return "lossless"
	case QualityHigh:
		return "high"
	case QualityStandard:
		return "standard"
	case QualityLow:
		return "low"
	case QualityVeryLow:
		return "very_low"
	}

	return "unknown"
}

// FormatCode returns the numeric media format identifier the service
// expects in route hashes, as its decimal string representation.
func (q Quality) FormatCode() string {
	switch q {
	case QualityLossless:
		return "9"
	case QualityHigh:
		return "3"
	case QualityStandard:
		return "1"
	case QualityLow:
		return "10"
	case QualityVeryLow:
		return "0"
	default:
		panic("unexpected quality: " + strconv.Itoa(int(q)))
	}
}

// The service obfuscates every stream except the standard 128kbps one.
func (q Quality) RequiresDecryption() bool {
	return q != QualityStandard
}

func (q Quality) Ext() string {
	if q == QualityLossless {
		return "flac"
	}

	return "mp3"
}

func ParseQuality(s string) (Quality, error) {
	switch s {
	case "lossless", "flac":
		return QualityLossless, nil
	case "high", "320":
		return QualityHigh, nil
	case "standard", "128":
		return QualityStandard, nil
	case "low", "64":
		return QualityLow, nil
	case "very_low":
		return QualityVeryLow, nil
	default:
		return 0, fmt.Errorf("unknown quality %q", s)
	}
}

type Entitlements struct {
	Lossless bool
	High     bool
}

func (e Entitlements) Has(q Quality) bool {
	switch q {
	case QualityLossless:
		return e.Lossless
	case QualityHigh:
		return e.High
	case QualityStandard, QualityLow, QualityVeryLow:
		return true
	default:
		return false
	}
}

// Resolve picks the quality to download: the requested one when
// entitled, else the fallback when entitled, else the highest entitled
// tier in order lossless > high > standard.
func (e Entitlements) Resolve(requested, fallback Quality) Quality {
	if e.Has(requested) {
		return requested
	}

	if e.Has(fallback) {
		return fallback
	}

	for _, q := range []Quality{QualityLossless, QualityHigh, QualityStandard} {
		if e.Has(q) {
			return q
		}
	}

	return QualityStandard
}
