package mocks

//go:generate mockery --name AggregateStore --srcpkg github.com/aevon-lab/ledgerview/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name ObjectStore --srcpkg github.com/aevon-lab/ledgerview/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
