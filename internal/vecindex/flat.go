// Package vecindex 提供精确内积检索的平面向量索引，以及
// 管理全局JD索引和会话简历索引的Manager。
package vecindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// 索引文件格式：magic + version + dim + count + count*dim个float32，小端序
const (
	indexMagic   = "JFIX"
	indexVersion = uint32(1)
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch") // 向量维度不一致
	ErrEmptyQuery        = errors.New("empty query vector")        // 查询向量为空
)

// FlatIndex 平面向量索引：顺序存储全部向量，检索时对每行算内积。
// 向量位置即ID，一旦加入不再移动。索引本身不做归一化，
// 调用方需保证向量已按余弦相似度要求归一化。
type FlatIndex struct {
	dim     int
	vectors [][]float32
}

// NewFlatIndex 创建指定维度的空索引
func NewFlatIndex(dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("非法的向量维度: %d", dim)
	}
	return &FlatIndex{dim: dim}, nil
}

// Dim 向量维度
func (f *FlatIndex) Dim() int {
	return f.dim
}

// Ntotal 已存储的向量数
func (f *FlatIndex) Ntotal() int {
	return len(f.vectors)
}

// Add 追加一批向量，每个向量维度必须与索引一致
func (f *FlatIndex) Add(vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) != f.dim {
			return fmt.Errorf("%w: 第%d个向量维度为%d, 索引维度为%d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}
	f.vectors = append(f.vectors, vecs...)
	return nil
}

// Search 精确内积检索，返回按分数降序的前k个结果及其位置ID。
// k超过向量总数时按总数截断。
func (f *FlatIndex) Search(query []float32, k int) ([]float32, []int, error) {
	if len(query) == 0 {
		return nil, nil, ErrEmptyQuery
	}
	if len(query) != f.dim {
		return nil, nil, fmt.Errorf("%w: 查询维度为%d, 索引维度为%d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 || f.Ntotal() == 0 {
		return nil, nil, nil
	}
	if k > f.Ntotal() {
		k = f.Ntotal()
	}

	scores := make([]float32, len(f.vectors))
	for i, v := range f.vectors {
		var dot float32
		for j := range v {
			dot += v[j] * query[j]
		}
		scores[i] = dot
	}

	ids := make([]int, len(f.vectors))
	for i := range ids {
		ids[i] = i
	}
	// 分数相同按位置升序，保证结果确定
	sort.SliceStable(ids, func(a, b int) bool {
		return scores[ids[a]] > scores[ids[b]]
	})

	topScores := make([]float32, k)
	topIDs := make([]int, k)
	for i := 0; i < k; i++ {
		topIDs[i] = ids[i]
		topScores[i] = scores[ids[i]]
	}
	return topScores, topIDs, nil
}

// Save 把索引以二进制格式原子写入文件
func (f *FlatIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建索引目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("创建临时索引文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(indexMagic); err != nil {
		tmp.Close()
		return fmt.Errorf("写入索引头失败: %w", err)
	}
	for _, v := range []uint32{indexVersion, uint32(f.dim), uint32(len(f.vectors))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			tmp.Close()
			return fmt.Errorf("写入索引头失败: %w", err)
		}
	}
	for _, vec := range f.vectors {
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			tmp.Close()
			return fmt.Errorf("写入向量数据失败: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("刷新索引文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭索引文件失败: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("替换索引文件失败: %w", err)
	}
	return nil
}

// LoadFlatIndex 从文件加载索引
func LoadFlatIndex(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开索引文件失败: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("读取索引头失败: %w", err)
	}
	if string(magic) != indexMagic {
		return nil, fmt.Errorf("索引文件格式不正确: magic=%q", magic)
	}

	var version, dim, count uint32
	for _, p := range []*uint32{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, fmt.Errorf("读取索引头失败: %w", err)
		}
	}
	if version != indexVersion {
		return nil, fmt.Errorf("不支持的索引版本: %d", version)
	}
	if dim == 0 {
		return nil, fmt.Errorf("索引文件维度为0")
	}

	index := &FlatIndex{dim: int(dim), vectors: make([][]float32, 0, count)}
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("读取第%d个向量失败: %w", i, err)
		}
		index.vectors = append(index.vectors, vec)
	}
	return index, nil
}
