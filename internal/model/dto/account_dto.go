package dto

// CreateAccountRequest 新建集群账号
type CreateAccountRequest struct {
	ConnectionName string `json:"connection_name" binding:"required,max=100"`
	Scheme         string `json:"scheme" binding:"required,oneof=http https"`
	Host           string `json:"host" binding:"required,max=255"`
	Port           int    `json:"port" binding:"required,min=1,max=65535"`
	Username       string `json:"username" binding:"required,max=100"`
	Password       string `json:"password" binding:"required"`
}

// UpdateAccountRequest 修改账号，未提供的字段保持不变
type UpdateAccountRequest struct {
	Scheme   *string `json:"scheme" binding:"omitempty,oneof=http https"`
	Host     *string `json:"host" binding:"omitempty,max=255"`
	Port     *int    `json:"port" binding:"omitempty,min=1,max=65535"`
	Username *string `json:"username" binding:"omitempty,max=100"`
	Password *string `json:"password"`
}

// AccountItem 账号信息（不含密码）
type AccountItem struct {
	ID             int64  `json:"id"`
	ConnectionName string `json:"connection_name"`
	Scheme         string `json:"scheme"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
}
