package task

import "strings"

// Item 清单中的一个步骤 / Item is one step of the checklist.
type Item struct {
	Title       string `json:"title"`
	Description string `json:"taskDescription"`
	Value       int    `json:"value"`
}

// List 有序任务清单，会话期间不可变（整体替换除外）
// List is the ordered checklist; immutable during a session (wholesale
// replacement on reload only).
type List []Item

// Normalize 去掉空标题项并整理空白 / Normalize drops empty-title items and trims whitespace.
func Normalize(items []Item) List {
	out := make(List, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		item.Title = title
		item.Description = strings.TrimSpace(item.Description)
		out = append(out, item)
	}
	return out
}

// TotalValue 清单总分 / TotalValue sums the point values of all items.
func (l List) TotalValue() int {
	total := 0
	for _, item := range l {
		total += item.Value
	}
	return total
}
