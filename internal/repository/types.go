package repository

// LicenseKeyListFilter 查询卡密列表的过滤条件
type LicenseKeyListFilter struct {
	Page       int
	PageSize   int
	Status     string
	GroupID    string
	ProductID  uint
	OnlyGroups *bool
}

// AutomationLedgerListFilter 查询自动化台账的过滤条件
type AutomationLedgerListFilter struct {
	Page     int
	PageSize int
	Status   string
	OrderID  uint
}
