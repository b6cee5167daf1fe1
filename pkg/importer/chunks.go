package importer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ChunkAssembler 负责大文件分块上传的落盘和重组。
// 每个客户端生成的标识符对应一个独立的暂存目录，不同标识符之间
// 完全并行；同一标识符下不同索引的分块写入也互不阻塞。
type ChunkAssembler struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*uploadSession
}

// uploadSession 追踪一个标识符的上传进度。
type uploadSession struct {
	mu           sync.Mutex
	total        int
	fileName     string
	received     map[int]bool
	bytesSoFar   int64
	lastActivity time.Time
}

// AssembleResult 是一次 PutChunk 调用的结果。
// Complete 为 true 时 AssembledPath 指向重组完成的文件。
type AssembleResult struct {
	Accepted      bool   `json:"accepted"`
	Complete      bool   `json:"complete"`
	Received      int    `json:"received"`
	Total         int    `json:"total"`
	AssembledPath string `json:"-"`
}

// NewChunkAssembler 创建一个以 dir 为暂存根目录的重组器。
func NewChunkAssembler(dir string) *ChunkAssembler {
	return &ChunkAssembler{
		dir:      dir,
		sessions: make(map[string]*uploadSession),
	}
}

// PutChunk 接收一个分块并写入暂存区。
// 同一 (identifier, index) 重复提交会覆盖旧分块而不是追加。
// 当全部分块到齐时按索引顺序拼接出完整文件并清除分块暂存。
func (a *ChunkAssembler) PutChunk(identifier string, index, total int, fileName string, r io.Reader) (AssembleResult, error) {
	// 1. 参数校验，不合法的请求直接拒绝
	if err := validateIdentifier(identifier); err != nil {
		return AssembleResult{}, err
	}
	if total <= 0 || index < 0 || index >= total {
		return AssembleResult{}, fmt.Errorf("%w: 索引 %d 超出范围 [0, %d)", ErrProtocol, index, total)
	}
	if fileName == "" || fileName != filepath.Base(fileName) {
		return AssembleResult{}, fmt.Errorf("%w: 文件名 %q 不安全", ErrProtocol, fileName)
	}

	// 2. 获取或创建会话，并校验会话参数的一致性
	sess, err := a.getOrCreateSession(identifier, total, fileName)
	if err != nil {
		return AssembleResult{}, err
	}

	// 3. 落盘分块。写入在会话锁之外进行，不同索引的写入互不阻塞。
	//    先写临时文件再rename，保证重复提交覆盖时不会读到半截数据。
	sessDir := filepath.Join(a.dir, identifier)
	if err := os.MkdirAll(sessDir, 0755); err != nil {
		return AssembleResult{}, err
	}

	chunkPath := filepath.Join(sessDir, fmt.Sprintf("chunk_%d", index))
	tmpPath := chunkPath + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return AssembleResult{}, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return AssembleResult{}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return AssembleResult{}, err
	}
	if err := os.Rename(tmpPath, chunkPath); err != nil {
		os.Remove(tmpPath)
		return AssembleResult{}, err
	}

	// 4. 更新会话进度，到齐后在会话锁内拼接，避免GC和重复拼接
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.received[index] {
		sess.received[index] = true
		sess.bytesSoFar += n
	}
	sess.lastActivity = time.Now()

	result := AssembleResult{
		Accepted: true,
		Received: len(sess.received),
		Total:    sess.total,
	}
	if len(sess.received) < sess.total {
		return result, nil
	}

	assembledPath, err := a.assemble(sessDir, sess)
	if err != nil {
		return AssembleResult{}, err
	}

	a.mu.Lock()
	delete(a.sessions, identifier)
	a.mu.Unlock()

	result.Complete = true
	result.AssembledPath = assembledPath
	return result, nil
}

// Abort 丢弃一个上传会话及其全部分块。
func (a *ChunkAssembler) Abort(identifier string) error {
	if err := validateIdentifier(identifier); err != nil {
		return err
	}

	a.mu.Lock()
	sess, ok := a.sessions[identifier]
	delete(a.sessions, identifier)
	a.mu.Unlock()

	if ok {
		// 等待可能正在进行的写入或拼接结束再删目录
		sess.mu.Lock()
		defer sess.mu.Unlock()
	}
	return os.RemoveAll(filepath.Join(a.dir, identifier))
}

// CollectStale 清理超过保留期限没有活动的上传会话，返回清理掉的数量。
// 正在拼接的会话持有会话锁，不会被中途清理。
func (a *ChunkAssembler) CollectStale(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	a.mu.Lock()
	snapshot := make(map[string]*uploadSession, len(a.sessions))
	for id, sess := range a.sessions {
		snapshot[id] = sess
	}
	a.mu.Unlock()

	removed := 0
	for id, sess := range snapshot {
		sess.mu.Lock()
		if sess.lastActivity.Before(cutoff) {
			a.mu.Lock()
			delete(a.sessions, id)
			a.mu.Unlock()
			if err := os.RemoveAll(filepath.Join(a.dir, id)); err != nil {
				slog.Warn("清理过期上传会话失败", "identifier", id, "error", err)
			} else {
				removed++
			}
		}
		sess.mu.Unlock()
	}

	// 进程重启后内存会话表是空的，磁盘上的孤儿目录按修改时间清理
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return removed
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		a.mu.Lock()
		_, tracked := a.sessions[entry.Name()]
		a.mu.Unlock()
		if tracked {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.dir, entry.Name())); err != nil {
			slog.Warn("清理孤儿分块目录失败", "dir", entry.Name(), "error", err)
		} else {
			removed++
		}
	}
	return removed
}

func (a *ChunkAssembler) getOrCreateSession(identifier string, total int, fileName string) (*uploadSession, error) {
	a.mu.Lock()
	sess, ok := a.sessions[identifier]
	if !ok {
		sess = &uploadSession{
			total:        total,
			fileName:     fileName,
			received:     make(map[int]bool),
			lastActivity: time.Now(),
		}
		a.sessions[identifier] = sess
		a.mu.Unlock()
		return sess, nil
	}
	a.mu.Unlock()

	// 锁顺序固定为 会话锁->表锁，避免和拼接完成时的清理互相等待
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.total != total || sess.fileName != fileName {
		// 会话参数前后不一致是协议错误，终止整个会话
		a.mu.Lock()
		delete(a.sessions, identifier)
		a.mu.Unlock()
		os.RemoveAll(filepath.Join(a.dir, identifier))
		return nil, fmt.Errorf("%w: 会话 %s 的总块数或文件名前后不一致", ErrProtocol, identifier)
	}
	return sess, nil
}

// assemble 按索引顺序把分块拼接成完整文件。调用方必须持有会话锁。
// 成功后分块文件被删除，拼接产物留在会话目录中由调用方取走。
func (a *ChunkAssembler) assemble(sessDir string, sess *uploadSession) (string, error) {
	finalPath := filepath.Join(sessDir, sess.fileName)
	tmpPath := finalPath + ".part"

	out, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	for i := 0; i < sess.total; i++ {
		chunkPath := filepath.Join(sessDir, fmt.Sprintf("chunk_%d", i))
		in, err := os.Open(chunkPath)
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("读取分块 %d 失败: %w", i, err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("拼接分块 %d 失败: %w", i, err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	for i := 0; i < sess.total; i++ {
		os.Remove(filepath.Join(sessDir, fmt.Sprintf("chunk_%d", i)))
	}
	return finalPath, nil
}

// validateIdentifier 校验客户端生成的标识符是否路径安全。
func validateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: 标识符为空", ErrProtocol)
	}
	if strings.ContainsAny(identifier, `/\`) || strings.Contains(identifier, "..") {
		return fmt.Errorf("%w: 标识符 %q 含有路径字符", ErrProtocol, identifier)
	}
	return nil
}
