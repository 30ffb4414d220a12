package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// BatchFields 提供预加载批次的进度字段，供聚合器与事件日志复用。
func BatchFields(batchID, finished, skipped, total int) logrus.Fields {
	return logrus.Fields{
		"batch_id": batchID,
		"finished": finished,
		"skipped":  skipped,
		"total":    total,
	}
}

// SourceFields 描述一次图片加载请求：来源类型、地址、优先级与缓存策略。
func SourceFields(kind, uri, priority, cacheControl string) logrus.Fields {
	return logrus.Fields{
		"source_kind":   kind,
		"uri":           uri,
		"priority":      priority,
		"cache_control": cacheControl,
	}
}
