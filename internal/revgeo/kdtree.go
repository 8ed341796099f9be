package revgeo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// KD-Tree 最近邻（二维经纬），在 PIP 未命中时按省级质心兜底
// 约束：按经度/纬度交替分割；只支持查询最近一个点
type kdNode struct {
	pt  orb.Point
	idx int
	ax  int // 0:lon,1:lat
	l   *kdNode
	r   *kdNode
}

type kdItem struct {
	pt  orb.Point
	idx int
}

func buildKD(items []kdItem, depth int) *kdNode {
	if len(items) == 0 {
		return nil
	}
	ax := depth % 2
	mid := len(items) / 2
	selectNth(items, mid, ax)
	node := &kdNode{pt: items[mid].pt, idx: items[mid].idx, ax: ax}
	node.l = buildKD(items[:mid], depth+1)
	node.r = buildKD(items[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择
func selectNth(a []kdItem, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := pivot(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func pivot(a []kdItem, lo, hi, pv, ax int) int {
	v := a[pv].pt[ax]
	a[pv], a[hi] = a[hi], a[pv]
	i := lo
	for j := lo; j < hi; j++ {
		if a[j].pt[ax] < v {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

// nearest：返回最近点的下标与距离（千米）；树为空时下标为 -1
func nearest(node *kdNode, pt orb.Point) (int, float64) {
	best, bestD := -1, math.MaxFloat64
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		if d := geo.Distance(pt, n.pt) / 1000; d < bestD {
			best, bestD = n.idx, d
		}
		key, q := pt[n.ax], n.pt[n.ax]
		first, second := n.l, n.r
		if key > q {
			first, second = n.r, n.l
		}
		dfs(first)
		// 分割平面到查询点的距离下界小于当前最优距离时才遍历另一侧
		// 1° 纬度约 111km；经度方向按 60°N 处的间距取下界
		kmPerDeg := 111.0
		if n.ax == 0 {
			kmPerDeg = 55.5
		}
		if math.Abs(key-q)*kmPerDeg < bestD {
			dfs(second)
		}
	}
	dfs(node)
	return best, bestD
}
