package usecase

import (
	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
)

// Compile-time check
var _ PackageUseCase = (*packageUC)(nil)

// PackageUseCase exposes the immutable package catalog.
type PackageUseCase interface {
	List() []*model.Package
	Get(id string) (*model.Package, error)
}

type packageUC struct {
	ordered []*model.Package
	byID    map[string]*model.Package
}

// NewPackageUseCase keeps the order the packages were configured in.
func NewPackageUseCase(pkgs []*model.Package) (*packageUC, error) {
	uc := &packageUC{byID: make(map[string]*model.Package, len(pkgs))}
	for _, p := range pkgs {
		if p.IsZero() {
			return nil, domain.ErrInvalidArgument
		}
		if _, dup := uc.byID[p.ID]; dup {
			return nil, domain.ErrAlreadyExists
		}
		uc.byID[p.ID] = p
		uc.ordered = append(uc.ordered, p)
	}
	return uc, nil
}

func (u *packageUC) List() []*model.Package {
	out := make([]*model.Package, len(u.ordered))
	copy(out, u.ordered)
	return out
}

func (u *packageUC) Get(id string) (*model.Package, error) {
	p, ok := u.byID[id]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return p, nil
}
