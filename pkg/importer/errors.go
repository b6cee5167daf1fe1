package importer

import "errors"

// 导入流水线的错误分类。调用方用 errors.Is 区分可重试错误和协议错误。
var (
	// ErrProtocol 表示分块上传参数非法（标识符不安全、索引越界、
	// 总块数前后不一致）。这类请求立即拒绝，重试同样的请求没有意义。
	ErrProtocol = errors.New("分块上传协议错误")

	// ErrCorruptArchive 表示ZIP文件本身损坏，整个提取操作失败，
	// 不会返回部分候选集。
	ErrCorruptArchive = errors.New("压缩包损坏或无法读取")

	// ErrArchiveTooLarge 表示压缩包或解压后的总大小超出安全上限。
	ErrArchiveTooLarge = errors.New("压缩包超出大小限制")

	// ErrSessionNotFound 表示指定的上传会话不存在或已被回收。
	ErrSessionNotFound = errors.New("上传会话不存在")
)
