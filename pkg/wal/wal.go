package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於私鑰、機密檔
	FileModePrivate fs.FileMode = 0600
)

// ErrBroken 寫入失敗後無法把檔案還原到寫入前的長度，之後的寫入一律拒絕
var ErrBroken = errors.New("wal is broken")

// file WAL 需要的檔案操作，*os.File 即符合
type file interface {
	io.ReadWriteSeeker
	io.Closer
	Sync() error
	Truncate(size int64) error
	Stat() (fs.FileInfo, error)
}

// WAL 以 JSON Lines 格式追加寫入的日誌檔，每筆一行
//
// size 為最後一筆成功落盤的資料結尾，寫入失敗時會截回這個位置
type WAL struct {
	file   file
	mu     sync.Mutex
	size   int64
	broken error
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	w, err := newWAL(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return w, nil
}

func newWAL(f file) (*WAL, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &WAL{file: f, size: info.Size()}, nil
}

// Write 寫入一筆資料並刷入硬碟，回傳後資料一定已落盤
//
// 寫入或 Sync 失敗時把檔案截回寫入前的長度，重試不會留下重複或半行的紀錄
// 截斷也失敗時 WAL 進入 broken 狀態，之後的 Write 都回傳 ErrBroken
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken != nil {
		return w.broken
	}

	_, err = w.file.Write(line)
	if err == nil {
		err = w.file.Sync()
	}
	if err != nil {
		if rerr := w.rollback(); rerr != nil {
			w.broken = fmt.Errorf("%w: %w", ErrBroken, rerr)
			return fmt.Errorf("%w (rollback: %w)", err, w.broken)
		}
		return err
	}
	w.size += int64(len(line))
	return nil
}

// rollback 截掉最後一次失敗寫入可能留下的位元組
func (w *WAL) rollback() error {
	if err := w.file.Truncate(w.size); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 從頭讀取所有資料，每筆呼叫一次 callback
//
// 最後一行若沒有換行 (寫到一半就 crash)，視為未提交並從檔案截掉
// 中間的行若無法解析則回傳錯誤，不猜測內容
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for lineNo := 1; ; lineNo++ {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return w.truncate(offset)
			}
			w.size = offset
			return nil
		}
		if err != nil {
			return err
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return fmt.Errorf("wal line %d is corrupt", lineNo)
		}
		if err := callback(line); err != nil {
			return fmt.Errorf("wal line %d: %w", lineNo, err)
		}
	}
}

func (w *WAL) truncate(size int64) error {
	if err := w.file.Truncate(size); err != nil {
		return fmt.Errorf("truncate torn wal tail: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.size = size
	return nil
}
