package config

import "errors"

// IdentityConfig 身份配置
//
// 身份来源优先级：Node.KeySeed（测试用确定性身份）> KeyStore（持久化）> Random。
type IdentityConfig struct {
	// KeyStore 启用 badger 持久化密钥库（位于 DataDir/keystore）
	KeyStore bool `json:"key_store"`

	// DataDir 数据目录
	DataDir string `json:"data_dir,omitempty"`

	// Passphrase 存储私钥时使用的口令（为空则不加密）
	Passphrase string `json:"passphrase,omitempty"`

	// Random 未提供种子且未启用密钥库时是否允许随机身份
	//
	// 默认 false：节点构造时必须能解析出身份来源。
	Random bool `json:"random"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.KeyStore && c.DataDir == "" {
		return errors.New("identity: key store requires data_dir")
	}
	return nil
}
