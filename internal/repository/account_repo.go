package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/secret"
)

// AccountRepository 账号密码加密后落库，读出时解密
type AccountRepository struct {
	db  *gorm.DB
	box *secret.Box
}

func NewAccountRepository(db *gorm.DB, box *secret.Box) *AccountRepository {
	return &AccountRepository{db: db, box: box}
}

func (r *AccountRepository) Create(account *model.AccountProfile) error {
	cipher, err := r.box.Seal(account.Password)
	if err != nil {
		return err
	}
	account.SecretCipher = cipher
	return r.db.Create(account).Error
}

// Update 保存修改后的账号，密码重新加密
func (r *AccountRepository) Update(account *model.AccountProfile) error {
	cipher, err := r.box.Seal(account.Password)
	if err != nil {
		return err
	}
	account.SecretCipher = cipher
	return r.db.Save(account).Error
}

func (r *AccountRepository) GetByID(id int64) (*model.AccountProfile, error) {
	var account model.AccountProfile
	if err := r.db.Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	if err := r.reveal(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByName(name string) (*model.AccountProfile, error) {
	var account model.AccountProfile
	if err := r.db.Where("connection_name = ?", name).First(&account).Error; err != nil {
		return nil, err
	}
	if err := r.reveal(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) List() ([]*model.AccountProfile, error) {
	var accounts []*model.AccountProfile
	if err := r.db.Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if err := r.reveal(a); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (r *AccountRepository) Delete(id int64) error {
	result := r.db.Delete(&model.AccountProfile{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *AccountRepository) reveal(account *model.AccountProfile) error {
	if account.SecretCipher == "" {
		return nil
	}
	plain, err := r.box.Open(account.SecretCipher)
	if err != nil {
		return err
	}
	account.Password = plain
	return nil
}
