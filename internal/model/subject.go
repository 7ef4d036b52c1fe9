package model

import "fmt"

// Subject 多态主体引用（类型标签 + ID），核心逻辑只关心身份，不加载主体数据
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Subjectable 可以被提跟进的实体
type Subjectable interface {
	FollowupSubject() Subject
}

func (s Subject) IsZero() bool { return s.Type == "" || s.ID == "" }

func (s Subject) String() string { return fmt.Sprintf("%s#%s", s.Type, s.ID) }

// SubjectOf 取实体的主体引用，nil 返回零值
func SubjectOf(v Subjectable) Subject {
	if v == nil {
		return Subject{}
	}
	return v.FollowupSubject()
}
