package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learnkins/learnkins/ledger"
	"github.com/learnkins/learnkins/middleware"
	"github.com/learnkins/learnkins/models"
	"github.com/learnkins/learnkins/utils"
)

const shopCacheKey = "cache:shop:list"

// ShopController serves the token shop: public listing, purchases, purchase
// history, and the admin CRUD/stats surface.
type ShopController struct {
	db     *gorm.DB
	ledger *ledger.Service
}

// NewShopController creates a ShopController.
func NewShopController(db *gorm.DB, svc *ledger.Service) *ShopController {
	return &ShopController{db: db, ledger: svc}
}

// ListItems returns active shop items. The listing is read far more often
// than it changes, so it is cached and invalidated on admin CRUD.
func (s *ShopController) ListItems(ctx *gin.Context) {
	if b, ok := utils.CacheGetBytes(shopCacheKey); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	var items []models.ShopItem
	if err := s.db.Where("active = ?", true).Order("price ASC").Find(&items).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "failed to load shop items")
		return
	}

	body := gin.H{"success": true, "items": items}
	utils.CacheSetJSON(shopCacheKey, body, time.Hour)
	utils.OK(ctx, gin.H{"items": items})
}

// Purchase buys an item for the authenticated user.
func (s *ShopController) Purchase(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	itemID, ok := parseIDParam(ctx)
	if !ok {
		return
	}

	res, err := s.ledger.Purchase(userID, itemID)
	if err != nil {
		s.respondPurchaseError(ctx, err)
		return
	}

	utils.OK(ctx, gin.H{
		"balance":     res.Balance,
		"transaction": res.Transaction,
		"purchase":    res.Purchase,
	})
}

// MyPurchases lists the authenticated user's purchase history, newest first.
func (s *ShopController) MyPurchases(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	var purchases []models.Purchase
	if err := s.db.Preload("Item").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&purchases).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "failed to load purchases")
		return
	}

	utils.OK(ctx, gin.H{"purchases": purchases})
}

type shopItemRequest struct {
	Name        string `json:"name" binding:"required,max=128"`
	Description string `json:"description" binding:"max=512"`
	Price       int    `json:"price"`
	Stock       *int   `json:"stock"`
	ItemType    string `json:"item_type"`
	Active      *bool  `json:"active"`
}

// CreateItem adds a shop item. Admin only.
func (s *ShopController) CreateItem(ctx *gin.Context) {
	var req shopItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Price <= 0 {
		utils.Fail(ctx, http.StatusBadRequest, "price must be a positive integer")
		return
	}
	itemType := req.ItemType
	if itemType == "" {
		itemType = models.ItemTypeConsumable
	}
	if itemType != models.ItemTypeConsumable && itemType != models.ItemTypePermanent {
		utils.Fail(ctx, http.StatusBadRequest, "invalid item type")
		return
	}

	item := models.ShopItem{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       models.UnlimitedStock,
		ItemType:    itemType,
		Active:      true,
	}
	if req.Stock != nil {
		if *req.Stock < models.UnlimitedStock {
			utils.Fail(ctx, http.StatusBadRequest, "stock must be -1 (unlimited) or non-negative")
			return
		}
		item.Stock = *req.Stock
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	if err := s.db.Create(&item).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "failed to create item")
		return
	}

	utils.InvalidateByPrefix("cache:shop:")
	utils.OK(ctx, gin.H{"item": item})
}

// UpdateItem modifies a shop item. Admin only.
func (s *ShopController) UpdateItem(ctx *gin.Context) {
	itemID, ok := parseIDParam(ctx)
	if !ok {
		return
	}

	var item models.ShopItem
	if err := s.db.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, http.StatusNotFound, "item not found")
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, "failed to load item")
		return
	}

	var req shopItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Price <= 0 {
		utils.Fail(ctx, http.StatusBadRequest, "price must be a positive integer")
		return
	}

	item.Name = req.Name
	item.Description = req.Description
	item.Price = req.Price
	if req.Stock != nil {
		if *req.Stock < models.UnlimitedStock {
			utils.Fail(ctx, http.StatusBadRequest, "stock must be -1 (unlimited) or non-negative")
			return
		}
		item.Stock = *req.Stock
	}
	if req.ItemType != "" {
		if req.ItemType != models.ItemTypeConsumable && req.ItemType != models.ItemTypePermanent {
			utils.Fail(ctx, http.StatusBadRequest, "invalid item type")
			return
		}
		item.ItemType = req.ItemType
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	if err := s.db.Save(&item).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "failed to update item")
		return
	}

	utils.InvalidateByPrefix("cache:shop:")
	utils.OK(ctx, gin.H{"item": item})
}

// DeleteItem soft-deletes a shop item. Admin only. Existing purchases keep
// referencing the row through the soft delete.
func (s *ShopController) DeleteItem(ctx *gin.Context) {
	itemID, ok := parseIDParam(ctx)
	if !ok {
		return
	}

	res := s.db.Delete(&models.ShopItem{}, itemID)
	if res.Error != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "failed to delete item")
		return
	}
	if res.RowsAffected == 0 {
		utils.Fail(ctx, http.StatusNotFound, "item not found")
		return
	}

	utils.InvalidateByPrefix("cache:shop:")
	utils.OK(ctx, gin.H{"message": "item deleted"})
}

// AdminStats returns shop-wide aggregates. Each query falls back to zero on
// failure instead of failing the endpoint.
func (s *ShopController) AdminStats(ctx *gin.Context) {
	var itemCount int64
	if err := s.db.Model(&models.ShopItem{}).Where("active = ?", true).Count(&itemCount).Error; err != nil {
		itemCount = 0
	}

	var purchaseCount int64
	if err := s.db.Model(&models.Purchase{}).Count(&purchaseCount).Error; err != nil {
		purchaseCount = 0
	}

	var tokensSpent int64
	if err := s.db.Model(&models.Purchase{}).
		Select("COALESCE(SUM(tokens_spent),0)").
		Scan(&tokensSpent).Error; err != nil {
		tokensSpent = 0
	}

	type itemRow struct {
		ItemID uint   `json:"item_id"`
		Name   string `json:"name"`
		Sold   int64  `json:"sold"`
	}
	var topItems []itemRow
	if err := s.db.Model(&models.Purchase{}).
		Select("purchases.item_id, shop_items.name, COUNT(*) AS sold").
		Joins("JOIN shop_items ON shop_items.id = purchases.item_id").
		Group("purchases.item_id, shop_items.name").
		Order("sold DESC").
		Limit(5).
		Scan(&topItems).Error; err != nil {
		topItems = nil
	}

	utils.OK(ctx, gin.H{
		"activeItems":    itemCount,
		"totalPurchases": purchaseCount,
		"tokensSpent":    tokensSpent,
		"topItems":       topItems,
	})
}

func (s *ShopController) respondPurchaseError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		utils.Fail(ctx, http.StatusBadRequest, "Insufficient diamonds")
	case errors.Is(err, ledger.ErrOutOfStock):
		utils.Fail(ctx, http.StatusBadRequest, "item out of stock")
	case errors.Is(err, ledger.ErrAlreadyOwned):
		utils.Fail(ctx, http.StatusBadRequest, "item already owned")
	case errors.Is(err, ledger.ErrItemNotFound):
		utils.Fail(ctx, http.StatusNotFound, "item not found")
	case errors.Is(err, ledger.ErrUserNotFound):
		utils.Fail(ctx, http.StatusNotFound, "user not found")
	default:
		if utils.Sugar != nil {
			utils.Sugar.Errorf("purchase failed: %v", err)
		}
		utils.Fail(ctx, http.StatusInternalServerError, "internal server error")
	}
}
