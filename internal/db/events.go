package db

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/adamavenir/frayline/internal/types"
)

// AppendEvent writes one realtime event to the project's event log.
func AppendEvent(filePath string, kind types.EventKind, channelID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return appendJSONLine(filePath, types.Event{Kind: kind, ChannelID: channelID, Payload: raw})
}

// ReadEventsFrom decodes complete event lines starting at offset. It returns
// the offset just past the last complete line so a partially written line is
// read again on the next call. Lines that fail to decode are returned as
// events with an empty kind so the reducer can count them as dropped.
func ReadEventsFrom(filePath string, offset int64) ([]types.Event, int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, offset, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() < offset {
		// Truncated or replaced; start over.
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var events []types.Event
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return events, offset, err
		}
		offset += int64(len(line))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			ev = types.Event{Payload: json.RawMessage(fmt.Sprintf("%q", string(line)))}
		}
		events = append(events, ev)
	}
	return events, offset, nil
}

func appendJSONLine(filePath string, record any) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return atomicAppend(filePath, data)
}

func atomicAppend(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}

	return f.Sync()
}
