package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/model/dto"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
	"github.com/qs3c/hpc_job_server/internal/repository"
)

var (
	ErrAccountExists = errors.New("连接名已存在")
	ErrAccountInUse  = errors.New("账号仍有未结束的作业")
)

type AccountService struct {
	accounts *repository.AccountRepository
	jobs     *repository.JobRepository
	tokens   *token.Cache
	conns    *hpc.Factory
}

func NewAccountService(
	accounts *repository.AccountRepository,
	jobs *repository.JobRepository,
	tokens *token.Cache,
	conns *hpc.Factory,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		jobs:     jobs,
		tokens:   tokens,
		conns:    conns,
	}
}

// Create 新建账号
func (s *AccountService) Create(req *dto.CreateAccountRequest) (*dto.AccountItem, error) {
	if _, err := s.accounts.GetByName(req.ConnectionName); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, hpcerr.Persistence("create account", err)
	}

	account := &model.AccountProfile{
		ConnectionName: req.ConnectionName,
		Scheme:         req.Scheme,
		Host:           req.Host,
		Port:           req.Port,
		Username:       req.Username,
		Password:       req.Password,
	}
	if err := s.accounts.Create(account); err != nil {
		return nil, hpcerr.Persistence("create account", err)
	}
	item := toAccountItem(account)
	return &item, nil
}

func (s *AccountService) List() ([]dto.AccountItem, error) {
	accounts, err := s.accounts.List()
	if err != nil {
		return nil, hpcerr.Persistence("list accounts", err)
	}
	items := make([]dto.AccountItem, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, toAccountItem(a))
	}
	return items, nil
}

func (s *AccountService) Get(id int64) (*dto.AccountItem, error) {
	account, err := s.accounts.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, hpcerr.Persistence("get account", err)
	}
	item := toAccountItem(account)
	return &item, nil
}

// Update changes the connection details of an account. Cached tokens and
// connections built from the old profile are dropped.
func (s *AccountService) Update(ctx context.Context, id int64, req *dto.UpdateAccountRequest) (*dto.AccountItem, error) {
	account, err := s.accounts.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, hpcerr.Persistence("update account", err)
	}
	old := *account

	if req.Scheme != nil {
		account.Scheme = *req.Scheme
	}
	if req.Host != nil {
		account.Host = *req.Host
	}
	if req.Port != nil {
		account.Port = *req.Port
	}
	if req.Username != nil {
		account.Username = *req.Username
	}
	if req.Password != nil {
		account.Password = *req.Password
	}

	if err := s.accounts.Update(account); err != nil {
		return nil, hpcerr.Persistence("update account", err)
	}
	s.tokens.Invalidate(&old)
	s.conns.Invalidate(&old)

	logger.FromContext(ctx).WithField("account", account.ConnectionName).Info("account updated")
	item := toAccountItem(account)
	return &item, nil
}

// Delete 删除账号并清除其令牌和连接缓存
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	account, err := s.accounts.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return hpcerr.Persistence("delete account", err)
	}

	active, err := s.jobs.CountByAccount(id, model.ActiveStatuses...)
	if err != nil {
		return hpcerr.Persistence("delete account", err)
	}
	if active > 0 {
		return fmt.Errorf("%w: %d active jobs", ErrAccountInUse, active)
	}

	if err := s.accounts.Delete(id); err != nil {
		return hpcerr.Persistence("delete account", err)
	}
	s.tokens.Invalidate(account)
	s.conns.Invalidate(account)

	logger.FromContext(ctx).WithField("account", account.ConnectionName).Info("account deleted")
	return nil
}

// Bootstrap 导入配置文件中的账号；已存在的连接名跳过
func (s *AccountService) Bootstrap(ctx context.Context, accounts []config.AccountConfig) error {
	log := logger.FromContext(ctx)
	for _, a := range accounts {
		_, err := s.Create(&dto.CreateAccountRequest{
			ConnectionName: a.ConnectionName,
			Scheme:         a.Scheme,
			Host:           a.Host,
			Port:           a.Port,
			Username:       a.Username,
			Password:       a.Password,
		})
		switch {
		case errors.Is(err, ErrAccountExists):
			continue
		case err != nil:
			return err
		}
		log.WithField("account", a.ConnectionName).Info("account imported from config")
	}
	return nil
}

func toAccountItem(a *model.AccountProfile) dto.AccountItem {
	return dto.AccountItem{
		ID:             a.ID,
		ConnectionName: a.ConnectionName,
		Scheme:         a.Scheme,
		Host:           a.Host,
		Port:           a.Port,
		Username:       a.Username,
	}
}
