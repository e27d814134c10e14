package store

type SystemSetting struct {
	Name  string
	Value string
}

type FindSystemSetting struct {
	Name string
}
