package shortlink

import "crypto/rand"

// CodeLength 是生成短码的固定长度。
// 64^8 ≈ 2.8e14，随机碰撞概率足够低，冲突重试是唯一的去重手段（没有中心计数器）。
const CodeLength = 8

// alphabet 恰好 64 个 URL 安全字符，一个随机字节取低 6 位即可均匀映射。
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Generator 生成候选短码。实现必须无共享可变状态，可并发调用。
type Generator interface {
	Generate() string
}

// RandomGenerator 基于 crypto/rand 的短码生成器。零值可用。
type RandomGenerator struct{}

func (RandomGenerator) Generate() string {
	var buf [CodeLength]byte
	// crypto/rand.Read 失败时运行时本身已不可用，直接 panic
	if _, err := rand.Read(buf[:]); err != nil {
		panic("shortlink: crypto/rand failed: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[b&63]
	}
	return string(buf[:])
}

// GeneratorFunc 让普通函数满足 Generator（测试里用来固定输出）。
type GeneratorFunc func() string

func (f GeneratorFunc) Generate() string { return f() }
