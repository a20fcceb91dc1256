package store

import "math"

// cosineDistance 返回 1 - cos(a, b)，与 pgvector 的 <=> 运算符一致。
// 任一向量为零向量或维度不一致时返回最大距离 2。
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
