package identity

import (
	"fmt"

	"go.uber.org/fx"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Source IdentitySource `optional:"true"`
}

// ProvideIdentity 从注入的 IdentitySource 解析身份
func ProvideIdentity(in ModuleInput) (*Identity, error) {
	if in.Source == nil {
		return nil, ErrNoIdentitySource
	}
	id, err := in.Source.Identity()
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return id, nil
}

// Module 返回身份 Fx 模块
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
