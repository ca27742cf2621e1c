package policy

// 按动作求值的能力对象，替代角色名字符串匹配
// （字符串匹配拼错权限名不会被编译器发现）。

type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionComment Action = "comment"
	ActionManage  Action = "manage" // 恢复版本 / 归档
)

type Policy struct {
	caps map[Action]struct{}
}

func New(actions ...Action) Policy {
	caps := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		caps[a] = struct{}{}
	}
	return Policy{caps: caps}
}

// FromRole 角色到能力集的一次性折算，之后全程用 Allows 判断
func FromRole(role string) Policy {
	switch role {
	case "owner", "admin":
		return New(ActionRead, ActionWrite, ActionComment, ActionManage)
	case "editor":
		return New(ActionRead, ActionWrite, ActionComment)
	case "commenter":
		return New(ActionRead, ActionComment)
	default:
		// 未知角色只读
		return New(ActionRead)
	}
}

func (p Policy) Allows(a Action) bool {
	_, ok := p.caps[a]
	return ok
}
