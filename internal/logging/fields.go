package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StoreFields 描述一次针对单个 source 存储的操作。
func StoreFields(action, source string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"source": source,
	}
}

// RequestFields 提供 source/瓦片坐标/命中状态字段，供 HTTP 请求日志复用。
func RequestFields(source string, zoom, x, y int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"source":    source,
		"zoom":      zoom,
		"x":         x,
		"y":         y,
		"cache_hit": cacheHit,
	}
}
