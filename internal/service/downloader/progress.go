package downloader

import (
	"strconv"
	"strings"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

// parseProgressLine decodes one line rendered with progressTemplate.
func parseProgressLine(line string) (domain.TransferEvent, bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return domain.TransferEvent{}, false
	}
	fields := strings.SplitN(strings.TrimPrefix(line, progressPrefix), " ", 7)
	if len(fields) < 6 {
		return domain.TransferEvent{}, false
	}

	ev := domain.TransferEvent{Status: fields[0]}
	if v := parseNumber(fields[1]); v != nil {
		ev.DownloadedBytes = *v
	}
	ev.TotalBytes = parseNumber(fields[2])
	if ev.TotalBytes == nil {
		ev.TotalBytes = parseNumber(fields[3])
	}
	ev.Speed = parseNumber(fields[4])
	if eta := parseNumber(fields[5]); eta != nil {
		secs := int(*eta)
		ev.ETA = &secs
	}
	if len(fields) == 7 && fields[6] != "NA" {
		ev.Filename = fields[6]
	}
	if ev.TotalBytes != nil && ev.DownloadedBytes > 0 {
		p := ev.DownloadedBytes / *ev.TotalBytes * 100
		ev.Percent = &p
	}
	return ev, true
}

func parseNumber(s string) *float64 {
	switch s {
	case "", "NA", "None":
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
