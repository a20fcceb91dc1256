package utils

import "strings"

// Label 是挂在候选或请求上的可解释标记，例如召回来源 recall_source、排序模型 rank_model。
// Value 记录取值，Source 记录写入阶段（recall / rank / rerank）。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Values 返回 Value 中以 '|' 分隔的各个取值。
func (l Label) Values() []string {
	if l.Value == "" {
		return nil
	}
	return strings.Split(l.Value, "|")
}

// MergeLabel 合并同名 Label：Value 以 '|' 累积，Source 以 ',' 累积，
// 已出现过的取值不重复追加，先出现的在前。
func MergeLabel(existing Label, incoming Label) Label {
	return Label{
		Value:  appendUnique(existing.Value, incoming.Value, "|"),
		Source: appendUnique(existing.Source, incoming.Source, ","),
	}
}

func appendUnique(list, item, sep string) string {
	switch {
	case item == "":
		return list
	case list == "":
		return item
	}
	for _, v := range strings.Split(list, sep) {
		if v == item {
			return list
		}
	}
	return list + sep + item
}
