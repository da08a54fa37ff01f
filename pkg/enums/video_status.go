package enums

import "fmt"

// VideoStatus tracks how far a video has progressed through ingestion.
type VideoStatus string

const (
	VideoStatusNotProcessed VideoStatus = "not_processed"
	VideoStatusDownloading  VideoStatus = "downloading"
	VideoStatusProcessing   VideoStatus = "processing"
	VideoStatusProcessed    VideoStatus = "processed"
)

// ordered by progression; status only ever moves to a later index.
var videoStatusOrder = []VideoStatus{
	VideoStatusNotProcessed,
	VideoStatusDownloading,
	VideoStatusProcessing,
	VideoStatusProcessed,
}

func (v VideoStatus) String() string {
	return string(v)
}

func (v VideoStatus) IsValid() bool {
	return v.rank() >= 0
}

// CanAdvanceTo reports whether moving from v to next keeps status monotonic.
func (v VideoStatus) CanAdvanceTo(next VideoStatus) bool {
	return next.rank() > v.rank()
}

// EarlierVideoStatuses returns the statuses that precede v.
func EarlierVideoStatuses(v VideoStatus) []VideoStatus {
	idx := v.rank()
	if idx <= 0 {
		return nil
	}
	out := make([]VideoStatus, idx)
	copy(out, videoStatusOrder[:idx])
	return out
}

func (v VideoStatus) rank() int {
	for i, candidate := range videoStatusOrder {
		if candidate == v {
			return i
		}
	}
	return -1
}

func ParseVideoStatus(value string) (VideoStatus, error) {
	for _, candidate := range videoStatusOrder {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid video status %q", value)
}
